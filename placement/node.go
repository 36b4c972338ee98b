package placement

import (
	"cmp"
	"fmt"
	"slices"
	"strconv"
	"strings"
)

// NodeAddress identifies a worker node. Generation distinguishes a restarted
// process from its previous incarnation on the same endpoint.
type NodeAddress struct {
	Endpoint   string // host:port
	Generation int64
}

// Compare orders addresses by endpoint, then generation.
func (a NodeAddress) Compare(b NodeAddress) int {
	if c := strings.Compare(a.Endpoint, b.Endpoint); c != 0 {
		return c
	}
	return cmp.Compare(a.Generation, b.Generation)
}

func (a NodeAddress) IsZero() bool {
	return a.Endpoint == "" && a.Generation == 0
}

// String formats the address as "endpoint@generation".
func (a NodeAddress) String() string {
	return a.Endpoint + "@" + strconv.FormatInt(a.Generation, 10)
}

// ParseNodeAddress parses the String form. A missing "@generation" suffix
// means generation 0.
func ParseNodeAddress(s string) (NodeAddress, error) {
	endpoint, gen, found := strings.Cut(s, "@")
	if endpoint == "" {
		return NodeAddress{}, fmt.Errorf("invalid node address %q: empty endpoint", s)
	}
	addr := NodeAddress{Endpoint: endpoint}
	if !found {
		return addr, nil
	}
	g, err := strconv.ParseInt(gen, 10, 64)
	if err != nil {
		return NodeAddress{}, fmt.Errorf("invalid node address %q: %w", s, err)
	}
	addr.Generation = g
	return addr, nil
}

// SortNodes returns a sorted copy of nodes with duplicates removed.
// The input slice is left untouched.
func SortNodes(nodes []NodeAddress) []NodeAddress {
	sorted := slices.Clone(nodes)
	slices.SortFunc(sorted, NodeAddress.Compare)
	return slices.Compact(sorted)
}
