package calltree

import (
	"regexp"
	"strings"
)

// javaSignature matches "<modifiers and return type> <qualified.Owner>.<method>(<params>)"
// with an optional throws clause.
var javaSignature = regexp.MustCompile(
	`^(?:[\w$.<>\[\],?]+\s+)+(?:[\w$]+\.)*([\w$]+)\.([\w$<>]+)\([^()]*\)(?:\s+throws\s+[\w$.,\s]+)?$`,
)

// ShortSignature derives "Owner#method" from a full call signature.
//
// Two shapes are recognized: a Java-like method signature carrying a return
// type, a qualified owner, a method name and a parameter list, and a Go
// runtime symbol such as "example.com/app/store.(*DB).Query". Anything else,
// a template label like "file.ftl:12#expr" for instance, yields ok == false.
func ShortSignature(signature string) (short string, ok bool) {
	if signature == "" {
		return "", false
	}
	if m := javaSignature.FindStringSubmatch(signature); m != nil {
		return m[1] + "#" + m[2], true
	}
	return goShortSignature(signature)
}

// fileExtensions are trailing components that mark a path-like label, for
// example "templates/order.ftl", rather than a Go symbol.
var fileExtensions = map[string]bool{
	"css": true, "csv": true, "erb": true, "ftl": true, "gif": true, "go": true,
	"gohtml": true, "hbs": true, "htm": true, "html": true, "ico": true, "java": true,
	"jpg": true, "js": true, "json": true, "jsp": true, "jsx": true, "map": true,
	"md": true, "mustache": true, "pdf": true, "php": true, "png": true, "py": true,
	"rb": true, "sql": true, "svg": true, "tmpl": true, "tpl": true, "ts": true,
	"tsx": true, "txt": true, "vm": true, "xml": true, "yaml": true, "yml": true,
}

// goShortSignature handles the names reported by runtime.FuncForPC. To stay
// clear of dotted labels such as "index.html", a plain "pkg.Func" is only
// accepted when the package has an import path or is main, and a name ending
// in a known file extension is never taken for a function.
func goShortSignature(sym string) (string, bool) {
	if strings.ContainsAny(sym, " \t:#[]") {
		return "", false
	}
	if strings.HasPrefix(sym, "/") || strings.Contains(sym, "//") {
		return "", false
	}
	rest := sym
	hasPath := false
	if i := strings.LastIndexByte(sym, '/'); i >= 0 {
		rest = sym[i+1:]
		hasPath = true
	}
	dot := strings.IndexByte(rest, '.')
	if dot <= 0 {
		return "", false
	}
	pkg, name := rest[:dot], rest[dot+1:]
	if !isPackageName(pkg) {
		return "", false
	}

	// pkg.(*Type).Method or pkg.(Type).Method
	if strings.HasPrefix(name, "(") {
		end := strings.IndexByte(name, ')')
		if end < 0 || end+1 >= len(name) || name[end+1] != '.' {
			return "", false
		}
		typ := strings.TrimPrefix(name[1:end], "*")
		method := name[end+2:]
		if !isIdent(typ) || !isIdent(method) {
			return "", false
		}
		return typ + "#" + method, true
	}

	parts := strings.Split(name, ".")
	if fileExtensions[parts[len(parts)-1]] {
		return "", false
	}
	switch len(parts) {
	case 1:
		if !isIdent(parts[0]) || (!hasPath && pkg != "main") {
			return "", false
		}
		return pkg + "#" + parts[0], true
	case 2:
		// pkg.Type.Method with a value receiver; closures (Func.func1) are skipped
		if !isIdent(parts[0]) || !isIdent(parts[1]) || isClosureName(parts[1]) {
			return "", false
		}
		if !hasPath && pkg != "main" {
			return "", false
		}
		return parts[0] + "#" + parts[1], true
	}
	return "", false
}

func isPackageName(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !isIdentByte(c) && c != '-' {
			return false
		}
	}
	return true
}

func isIdent(s string) bool {
	if s == "" || (s[0] >= '0' && s[0] <= '9') {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isIdentByte(s[i]) {
			return false
		}
	}
	return true
}

func isIdentByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

func isClosureName(s string) bool {
	if !strings.HasPrefix(s, "func") || len(s) == len("func") {
		return false
	}
	for i := len("func"); i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
