package secrets

import (
	"io"
	"sort"
	"strings"
)

const Mask = "***"

type Redactor struct {
	replacer *strings.Replacer
}

func NewRedactor(values ...string) *Redactor {
	vs := make([]string, 0, len(values))
	for _, v := range values {
		if v != "" {
			vs = append(vs, v)
		}
	}
	// longest first so that a secret containing another is fully masked
	sort.Slice(vs, func(i, j int) bool { return len(vs[i]) > len(vs[j]) })
	pairs := make([]string, 0, 2*len(vs))
	for _, v := range vs {
		pairs = append(pairs, v, Mask)
	}
	return &Redactor{replacer: strings.NewReplacer(pairs...)}
}

func (r *Redactor) Redact(s string) string {
	return r.replacer.Replace(s)
}

// Writer masks secrets in everything written to w. Callers write whole
// lines so a secret is never split across two writes.
func (r *Redactor) Writer(w io.Writer) io.Writer {
	return &redactWriter{r: r, w: w}
}

type redactWriter struct {
	r *Redactor
	w io.Writer
}

func (rw *redactWriter) Write(p []byte) (int, error) {
	if _, err := io.WriteString(rw.w, rw.r.Redact(string(p))); err != nil {
		return 0, err
	}
	return len(p), nil
}
