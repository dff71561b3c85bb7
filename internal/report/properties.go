package report

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Property is one key of a properties file.
type Property struct {
	Key   string
	Value string
}

// Properties is an ordered list of key=value pairs written one per line.
type Properties []Property

// Add appends key formatted with %v.
func (p Properties) Add(key string, value interface{}) Properties {
	return append(p, Property{Key: key, Value: fmt.Sprintf("%v", value)})
}

// AddIf appends key only when condition holds.
func (p Properties) AddIf(condition bool, key string, value interface{}) Properties {
	if !condition {
		return p
	}
	return p.Add(key, value)
}

func (p Properties) Get(key string) (string, bool) {
	for _, property := range p {
		if property.Key == key {
			return property.Value, true
		}
	}
	return "", false
}

func (p Properties) WriteTo(w io.Writer) (int64, error) {
	var written int64
	for _, property := range p {
		n, err := fmt.Fprintf(w, "%s=%s\n", property.Key, escape(property.Value))
		written += int64(n)
		if err != nil {
			return written, errors.WithStack(err)
		}
	}
	return written, nil
}

func (p Properties) Write(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.WithStack(err)
	}
	if _, err := p.WriteTo(f); err != nil {
		_ = f.Close()
		return err
	}
	return errors.WithStack(f.Close())
}

// ReadProperties parses a file written by Properties.Write. Blank lines and lines starting
// with # are skipped.
func ReadProperties(r io.Reader) (Properties, error) {
	var p Properties
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			return nil, errors.Errorf("malformed property line %q", line)
		}
		p = append(p, Property{Key: key, Value: unescape(value)})
	}
	return p, errors.WithStack(scanner.Err())
}

func ReadPropertiesFile(path string) (Properties, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	defer f.Close()
	return ReadProperties(f)
}

var (
	escaper   = strings.NewReplacer(`\`, `\\`, "\n", `\n`)
	unescaper = strings.NewReplacer(`\\`, `\`, `\n`, "\n")
)

func escape(s string) string   { return escaper.Replace(s) }
func unescape(s string) string { return unescaper.Replace(s) }
