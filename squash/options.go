package squash

import (
	"math/bits"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// AddrRange is an inclusive physical address window.
type AddrRange struct {
	Min uint64
	Max uint64
}

// Contains reports whether the block [addr, addr+size-1] lies entirely
// inside the range. An empty block is treated as the single address addr.
func (r AddrRange) Contains(addr, size uint64) bool {
	end := addr
	if size > 0 {
		var carry uint64
		end, carry = bits.Add64(addr, size-1, 0)
		if carry != 0 {
			return false
		}
	}
	return addr >= r.Min && end <= r.Max
}

func (r AddrRange) String() string {
	return hex(r.Min) + "-" + hex(r.Max)
}

// ParseRange parses "min-max". Each bound is hexadecimal when prefixed with
// 0x or 0X and decimal otherwise.
func ParseRange(s string) (AddrRange, error) {
	i := strings.IndexByte(s, '-')
	if i < 0 {
		return AddrRange{}, usageErrorf("range %q: expected min-max", s)
	}
	lo, err := parseBound(s[:i])
	if err != nil {
		return AddrRange{}, usageErrorf("range %q: bad lower bound: %v", s, err)
	}
	hi, err := parseBound(s[i+1:])
	if err != nil {
		return AddrRange{}, usageErrorf("range %q: bad upper bound: %v", s, err)
	}
	r := AddrRange{Min: lo, Max: hi}
	if err := r.validate(); err != nil {
		return AddrRange{}, err
	}
	return r, nil
}

func parseBound(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

func (r AddrRange) validate() error {
	if r.Min >= r.Max {
		return usageErrorf("range %v: min must be below max", r)
	}
	return nil
}

// Options is the immutable configuration of one squash run.
type Options struct {
	// Range, when set, keeps only segments fully inside it.
	Range *AddrRange
	// AdmitZeroSize keeps LOAD segments without file bytes as header-only
	// entries.
	AdmitZeroSize bool
	// OmitSectionTable drops the single null section header.
	OmitSectionTable bool
}

func (o Options) Validate() error {
	if o.Range != nil {
		return o.Range.validate()
	}
	return nil
}

func usageErrorf(format string, args ...interface{}) error {
	return &Error{Kind: KindUsage, Err: errors.Errorf(format, args...)}
}
