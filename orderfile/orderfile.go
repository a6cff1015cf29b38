// Package orderfile reads the screen's CSV order list (spec.md §6): UTF-8
// text, fields separated by any of `,:;`, first field a size token and the
// remaining fields flavor names.
package orderfile

import (
	"bufio"
	"os"
	"strings"

	"github.com/pkg/errors"
)

// Size token -> grams, per spec.md §3's "Screen working order" record.
const (
	gramsKilo   = 1000
	gramsMedio  = 500
	gramsCuarto = 250
)

// Order is one line of the order file, already parsed into size grams and
// flavor names. A zero Size marks an invalid size token (spec.md §3: "other
// = 0, invalid"); the Screen Order Driver is responsible for failing such
// orders rather than sending them.
type Order struct {
	Size    uint32
	Flavors []string
}

// Load reads every order from path, in file order.
func Load(path string) ([]Order, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening order file %q", path)
	}
	defer f.Close()

	var out []Order
	var scanner = bufio.NewScanner(f)
	for scanner.Scan() {
		var line = strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		out = append(out, parseLine(line))
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading order file")
	}
	return out, nil
}

// parseLine splits on any of `,:;` and converts the first field via
// sizeGrams; a line with no flavor fields yields an Order with a nil
// Flavors slice. The driver does not reject such an order itself (it checks
// only Size); the shop's Order Router fails an order with zero flavors.
func parseLine(line string) Order {
	var fields = strings.FieldsFunc(line, func(r rune) bool {
		return r == ',' || r == ':' || r == ';'
	})
	if len(fields) == 0 {
		return Order{}
	}
	var o = Order{Size: sizeGrams(fields[0])}
	if len(fields) > 1 {
		o.Flavors = fields[1:]
	}
	return o
}

// sizeGrams maps a size token to grams, case-insensitively. Anything else
// is invalid and yields 0, matching spec.md §3 exactly.
func sizeGrams(token string) uint32 {
	switch strings.ToUpper(strings.TrimSpace(token)) {
	case "KILO":
		return gramsKilo
	case "MEDIO":
		return gramsMedio
	case "CUARTO":
		return gramsCuarto
	default:
		return 0
	}
}
