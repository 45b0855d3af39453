package bytecode

import (
	"fmt"
	"io"
	"strings"

	"gopkg.in/yaml.v3"
)

// Source is the YAML form of an instruction sequence.
//
//	name: countdown
//	path: countdown.rb
//	line: 1
//	code:
//	  - putobject 3
//	  - label top
//	  - dup
//	  - branchunless done
//	  ...
//
// The pseudo instruction "label NAME" marks a branch target.
type Source struct {
	Name string   `yaml:"name"`
	Path string   `yaml:"path"`
	Line int      `yaml:"line"`
	Code []string `yaml:"code"`
}

// LoadISeq reads a YAML instruction sequence and assembles it
func LoadISeq(r io.Reader) (*ISeq, error) {
	var src Source
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&src); err != nil {
		return nil, fmt.Errorf("decode iseq: %w", err)
	}
	return Assemble(src)
}

type fixup struct {
	at    int // word holding the offset
	next  int // pc of the following instruction
	label string
}

// Assemble turns textual instructions into an ISeq
func Assemble(src Source) (*ISeq, error) {
	if src.Name == "" {
		src.Name = "<main>"
	}

	iseq := &ISeq{Name: src.Name, Path: src.Path, Line: src.Line}
	labels := make(map[string]int)
	var fixups []fixup

	for n, line := range src.Code {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		fields := strings.Fields(line)
		if fields[0] == "label" {
			if len(fields) != 2 {
				return nil, fmt.Errorf("line %d: label takes a name", n+1)
			}
			label := fields[1]
			if _, dup := labels[label]; dup {
				return nil, fmt.Errorf("line %d: label %q already defined", n+1, label)
			}
			labels[label] = len(iseq.Code)
			continue
		}

		op, err := LookupOpcode(fields[0])
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", n+1, err)
		}
		if len(fields)-1 != op.Len()-1 {
			return nil, fmt.Errorf("line %d: %s takes %d operand(s), got %d", n+1, op, op.Len()-1, len(fields)-1)
		}

		iseq.Code = append(iseq.Code, uint64(op))
		switch {
		case op.IsBranch():
			fixups = append(fixups, fixup{at: len(iseq.Code), next: len(iseq.Code) + 1, label: fields[1]})
			iseq.Code = append(iseq.Code, 0)
		case op == OpPutObject:
			v, err := ParseValue(fields[1])
			if err != nil {
				return nil, fmt.Errorf("line %d: %w", n+1, err)
			}
			iseq.Code = append(iseq.Code, v)
		}
	}

	for _, f := range fixups {
		target, ok := labels[f.label]
		if !ok {
			return nil, fmt.Errorf("undefined label %q", f.label)
		}
		iseq.Code[f.at] = uint64(int64(target - f.next))
	}

	return iseq, nil
}
