package stock

import (
	"bufio"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/pkg/errors"
)

// flavorCounters holds the three non-negative counters for one flavor,
// guarded by a single mutex. Using one lock for all three counters (rather
// than the original implementation's separate locks for stock/reserved/
// confirmed) closes the race spec.md §9's Open Questions flags: "a careful
// reimplementer should take both [stock and reserved] under a single
// critical region to preserve the invariant during a concurrent Backup
// finalize." Confirmed is folded into the same region for the same reason.
type flavorCounters struct {
	mu        sync.Mutex
	stock     uint32
	reserved  uint32
	confirmed uint32
}

// available returns stock - reserved - confirmed. Caller must hold mu.
func (f *flavorCounters) available() uint32 {
	return f.stock - f.reserved - f.confirmed
}

// loadInventory reads a `FLAVOR,COUNT` file per spec.md §6. Flavor is
// normalized to uppercase; lines whose count does not parse as a
// non-negative integer are skipped, matching the original loader's
// `parse::<u32>()` behavior of silently continuing on error.
func loadInventory(path string) (map[string]*flavorCounters, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening inventory file %q", path)
	}
	defer f.Close()

	var out = make(map[string]*flavorCounters)
	var scanner = bufio.NewScanner(f)
	for scanner.Scan() {
		var line = strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, ",", 2)
		if len(parts) != 2 {
			continue
		}
		count, err := strconv.ParseUint(strings.TrimSpace(parts[1]), 10, 32)
		if err != nil {
			continue
		}
		var flavor = strings.ToUpper(strings.TrimSpace(parts[0]))
		out[flavor] = &flavorCounters{stock: uint32(count)}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "reading inventory file")
	}
	return out, nil
}
