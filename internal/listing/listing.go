// Package listing reads class listings: YAML documents describing a class
// whose method bodies are written in a line-oriented bytecode assembly.
//
//	class: com/example/Foo
//	source: Foo.java
//	methods:
//	  - name: abs
//	    desc: (I)I
//	    access: [public, static]
//	    code: |
//	      .line 3
//	      iload 0
//	      ifge Lpos
//	      iload 0
//	      ineg
//	      ireturn
//	      Lpos:
//	      iload 0
//	      ireturn
package listing

import (
	"bytes"
	"errors"
	"fmt"
	"hash/crc64"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/farid-feyzi/jacoco/internal/flow"
)

// ErrSyntax is wrapped by every parse error.
var ErrSyntax = errors.New("listing: syntax error")

// File is the YAML form of a class listing.
type File struct {
	Class   string   `yaml:"class"`
	Super   string   `yaml:"super,omitempty"`
	Source  string   `yaml:"source,omitempty"`
	Access  []string `yaml:"access,omitempty"`
	Methods []Method `yaml:"methods"`
}

type Method struct {
	Name        string   `yaml:"name"`
	Desc        string   `yaml:"desc"`
	Signature   string   `yaml:"signature,omitempty"`
	Access      []string `yaml:"access,omitempty"`
	Annotations []string `yaml:"annotations,omitempty"`
	Code        string   `yaml:"code,omitempty"`
}

var accessFlags = map[string]int{
	"public":       flow.AccPublic,
	"private":      flow.AccPrivate,
	"protected":    flow.AccProtected,
	"static":       flow.AccStatic,
	"final":        flow.AccFinal,
	"synchronized": flow.AccSynchronized,
	"bridge":       flow.AccBridge,
	"transient":    flow.AccTransient,
	"native":       flow.AccNative,
	"interface":    flow.AccInterface,
	"abstract":     flow.AccAbstract,
	"synthetic":    flow.AccSynthetic,
}

func parseAccess(names []string) (int, error) {
	acc := 0
	for _, n := range names {
		f, ok := accessFlags[strings.ToLower(n)]
		if !ok {
			return 0, fmt.Errorf("%w: unknown access flag %q", ErrSyntax, n)
		}
		acc |= f
	}
	return acc, nil
}

var crcTable = crc64.MakeTable(crc64.ISO)

// ClassID is the id of a listing: the CRC64 of its bytes, so any edit to the
// listing yields a new class version.
func ClassID(data []byte) uint64 { return crc64.Checksum(data, crcTable) }

// Parse decodes a listing into a class. Unknown YAML fields are rejected.
func Parse(data []byte) (*flow.Class, error) {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	var f File
	if err := dec.Decode(&f); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("%w: empty listing", ErrSyntax)
		}
		return nil, fmt.Errorf("listing: decode yaml: %w", err)
	}
	if f.Class == "" {
		return nil, fmt.Errorf("%w: missing class name", ErrSyntax)
	}
	acc, err := parseAccess(f.Access)
	if err != nil {
		return nil, fmt.Errorf("listing: class %s: %w", f.Class, err)
	}
	c := &flow.Class{
		ID:     ClassID(data),
		Name:   f.Class,
		Super:  f.Super,
		Source: f.Source,
		Access: acc,
	}
	for _, ms := range f.Methods {
		m, err := ms.method(f.Class, f.Super)
		if err != nil {
			return nil, fmt.Errorf("listing: %s.%s%s: %w", f.Class, ms.Name, ms.Desc, err)
		}
		c.Methods = append(c.Methods, m)
	}
	return c, nil
}

// ParseFile reads and parses a listing file.
func ParseFile(path string) (*flow.Class, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("listing: %w", err)
	}
	c, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return c, nil
}

func (ms Method) method(owner, super string) (*flow.Method, error) {
	if ms.Name == "" || ms.Desc == "" {
		return nil, fmt.Errorf("%w: method needs name and desc", ErrSyntax)
	}
	acc, err := parseAccess(ms.Access)
	if err != nil {
		return nil, err
	}
	m := &flow.Method{
		Owner:       owner,
		Super:       super,
		Name:        ms.Name,
		Desc:        ms.Desc,
		Signature:   ms.Signature,
		Access:      acc,
		Annotations: ms.Annotations,
	}
	if err := Assemble(m, ms.Code); err != nil {
		return nil, err
	}
	return m, nil
}
