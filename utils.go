package tpchbench

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

type Properties map[string]string

func NewProperties() Properties {
	return make(Properties)
}

func (self Properties) Get(key string) string {
	v, _ := self[key]
	return v
}

func (self Properties) GetDefault(key string, defaultValue string) string {
	if v, ok := self[key]; ok {
		return v
	}
	return defaultValue
}

func (self Properties) Add(key, value string) {
	self[key] = value
}

func (self Properties) Merge(other map[string]string) {
	for k, v := range other {
		self[k] = v
	}
}

// LoadProperties reads a property file of `name=value` lines.
// Empty lines and lines starting with '#' are skipped.
func LoadProperties(filename string) (Properties, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "open property file %s", filename)
	}
	defer f.Close()
	props := NewProperties()
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if len(line) == 0 || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			return nil, errors.Errorf("invalid property line: %s", line)
		}
		props.Add(strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1]))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read property file %s", filename)
	}
	return props, nil
}

func NanosecondToMicrosecond(nano int64) int64 {
	return nano / 1000
}

func SecondToNanosecond(second int64) int64 {
	return second * 1000 * 1000 * 1000
}
