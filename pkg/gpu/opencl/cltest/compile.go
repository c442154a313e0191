package cltest

import (
	"fmt"
	"regexp"
	"strings"
)

type param struct {
	pointer bool
	size    int
}

type kernelDecl struct {
	params []param
}

var kernelDeclRe = regexp.MustCompile(`(?:__kernel|\bkernel)\s+void\s+([A-Za-z_]\w*)\s*\(([^)]*)\)`)

var scalarSizes = map[string]int{
	"char": 1, "uchar": 1, "bool": 1,
	"short": 2, "ushort": 2, "half": 2,
	"int": 4, "uint": 4, "float": 4, "unsigned": 4,
	"long": 8, "ulong": 8, "double": 8, "size_t": 8,
}

// compile checks a program the way a front end would before code
// generation: brackets must balance and every __kernel declaration must have
// a well-formed parameter list. It returns nil declarations and a compiler
// style log on failure. It does not evaluate kernel bodies; execution is
// delegated to the registered KernelFuncs.
func compile(source string) (map[string]kernelDecl, string) {
	if msg := checkBrackets(source); msg != "" {
		return nil, msg
	}

	matches := kernelDeclRe.FindAllStringSubmatch(source, -1)
	if len(matches) == 0 {
		return nil, "<source>:1:1: error: program contains no __kernel functions"
	}

	decls := make(map[string]kernelDecl, len(matches))
	for _, m := range matches {
		name, list := m[1], strings.TrimSpace(m[2])
		if _, dup := decls[name]; dup {
			return nil, fmt.Sprintf("<source>: error: redefinition of '%s'", name)
		}

		var decl kernelDecl
		if list != "" && list != "void" {
			for _, raw := range strings.Split(list, ",") {
				p, err := parseParam(raw)
				if err != "" {
					return nil, fmt.Sprintf("<source>: error: in kernel '%s': %s", name, err)
				}
				decl.params = append(decl.params, p)
			}
		}
		decls[name] = decl
	}
	return decls, ""
}

func parseParam(raw string) (param, string) {
	text := strings.TrimSpace(raw)
	if text == "" {
		return param{}, "expected parameter declarator"
	}
	if strings.Contains(text, "*") {
		return param{pointer: true, size: 8}, ""
	}
	for _, tok := range strings.Fields(text) {
		if size, ok := scalarSizes[tok]; ok {
			return param{size: size}, ""
		}
	}
	return param{}, fmt.Sprintf("unknown type name in '%s'", text)
}

func checkBrackets(source string) string {
	type open struct {
		ch        byte
		line, col int
	}
	pairs := map[byte]byte{')': '(', ']': '[', '}': '{'}

	var stack []open
	line, col := 1, 0
	for i := 0; i < len(source); i++ {
		c := source[i]
		col++
		switch c {
		case '\n':
			line++
			col = 0
		case '(', '[', '{':
			stack = append(stack, open{ch: c, line: line, col: col})
		case ')', ']', '}':
			if len(stack) == 0 || stack[len(stack)-1].ch != pairs[c] {
				return fmt.Sprintf("<source>:%d:%d: error: unexpected '%c'", line, col, c)
			}
			stack = stack[:len(stack)-1]
		}
	}
	if len(stack) > 0 {
		top := stack[len(stack)-1]
		return fmt.Sprintf("<source>:%d:%d: error: expected '%c' to match this '%c'",
			top.line, top.col, closing(top.ch), top.ch)
	}
	return ""
}

func closing(c byte) byte {
	switch c {
	case '(':
		return ')'
	case '[':
		return ']'
	default:
		return '}'
	}
}

// validBuildOptions accepts the option shapes clBuildProgram understands:
// -D/-I definitions and -cl-* / -w / -Werror switches.
func validBuildOptions(options string) bool {
	expectValue := false
	for _, opt := range strings.Fields(options) {
		if expectValue {
			expectValue = false
			continue
		}
		switch {
		case opt == "-D", opt == "-I":
			expectValue = true
		case strings.HasPrefix(opt, "-D"), strings.HasPrefix(opt, "-I"):
		case strings.HasPrefix(opt, "-cl-"):
		case opt == "-w", opt == "-Werror":
		default:
			return false
		}
	}
	return true
}
