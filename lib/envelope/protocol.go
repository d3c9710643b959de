package envelope

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/samber/oops"
)

// Protocol selects the handler a Message body is routed to.
type Protocol struct {
	Family  string
	Version uint16
}

// NewProtocol returns the protocol family at the given version.
func NewProtocol(family string, version uint16) Protocol {
	return Protocol{Family: family, Version: version}
}

// ParseProtocol parses the "family/vN" form produced by String.
func ParseProtocol(s string) (Protocol, error) {
	family, ver, ok := strings.Cut(s, "/v")
	if !ok {
		return Protocol{}, oops.Errorf("protocol %q: expected family/vN", s)
	}
	n, err := strconv.ParseUint(ver, 10, 16)
	if err != nil {
		return Protocol{}, oops.Wrapf(err, "protocol %q: bad version", s)
	}
	p := NewProtocol(family, uint16(n))
	if err := p.Validate(); err != nil {
		return Protocol{}, err
	}
	return p, nil
}

// Validate checks that the protocol can be encoded.
func (p Protocol) Validate() error {
	if len(p.Family) == 0 {
		return oops.Wrapf(ErrMalformed, "empty protocol family")
	}
	if len(p.Family) > MaxFamilySize {
		return oops.Wrapf(ErrMalformed, "protocol family is %d bytes, max %d", len(p.Family), MaxFamilySize)
	}
	return nil
}

func (p Protocol) String() string {
	return fmt.Sprintf("%s/v%d", p.Family, p.Version)
}
