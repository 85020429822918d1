package projection

import (
	"regexp"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

// rmFallback matches `rm [-flags...] target` when the command does not parse.
var rmFallback = regexp.MustCompile(`(?i)\brm\s+(?:-[a-z]+\s+)*([^\s;&|]+)`)

// removedPaths returns the first non-flag operand of every rm invocation in a
// shell command.
func removedPaths(command string) []string {
	if !strings.Contains(command, "rm") {
		return nil
	}

	parser := syntax.NewParser(syntax.Variant(syntax.LangBash), syntax.KeepComments(false))
	file, err := parser.Parse(strings.NewReader(command), "")
	if err != nil {
		if m := rmFallback.FindStringSubmatch(command); m != nil {
			return []string{m[1]}
		}
		return nil
	}

	var paths []string
	syntax.Walk(file, func(node syntax.Node) bool {
		call, ok := node.(*syntax.CallExpr)
		if !ok || len(call.Args) < 2 || wordToString(call.Args[0]) != "rm" {
			return true
		}
		endOfFlags := false
		for _, arg := range call.Args[1:] {
			s := wordToString(arg)
			if s == "--" && !endOfFlags {
				endOfFlags = true
				continue
			}
			if s == "" || (!endOfFlags && strings.HasPrefix(s, "-")) {
				continue
			}
			paths = append(paths, s)
			break
		}
		return true
	})
	return paths
}

func wordToString(word *syntax.Word) string {
	var sb strings.Builder
	for _, part := range word.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(p.Value)
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, qp := range p.Parts {
				if lit, ok := qp.(*syntax.Lit); ok {
					sb.WriteString(lit.Value)
				}
			}
		case *syntax.ParamExp:
			sb.WriteString("$" + p.Param.Value)
		}
	}
	return sb.String()
}
