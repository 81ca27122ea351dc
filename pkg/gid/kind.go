package gid

import (
	"fmt"
	"math/bits"
	"strings"
)

type Kind uint8

const (
	KindIB Kind = iota
	KindRoCEv1
	KindRoCEv2

	numKinds
)

func (k Kind) String() string {
	switch k {
	case KindIB:
		return "ib"
	case KindRoCEv1:
		return "roce-v1"
	case KindRoCEv2:
		return "roce-v2"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ib", "infiniband":
		return KindIB, nil
	case "roce-v1", "rocev1", "roce":
		return KindRoCEv1, nil
	case "roce-v2", "rocev2":
		return KindRoCEv2, nil
	default:
		return 0, fmt.Errorf("unknown gid kind %q", s)
	}
}

// KindMask is a set of identity kinds.
type KindMask uint32

func MaskOf(kinds ...Kind) KindMask {
	var m KindMask
	for _, k := range kinds {
		m |= 1 << k
	}
	return m
}

func (m KindMask) Has(k Kind) bool {
	return m&(1<<k) != 0
}

func (m KindMask) Len() int {
	return bits.OnesCount32(uint32(m))
}

// Kinds lists the members of m in ascending order.
func (m KindMask) Kinds() []Kind {
	kinds := make([]Kind, 0, m.Len())
	for k := Kind(0); k < numKinds; k++ {
		if m.Has(k) {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

func (m KindMask) String() string {
	kinds := m.Kinds()
	names := make([]string, len(kinds))
	for i, k := range kinds {
		names[i] = k.String()
	}
	return "{" + strings.Join(names, ",") + "}"
}

func ParseKindMask(names []string) (KindMask, error) {
	var m KindMask
	for _, n := range names {
		k, err := ParseKind(n)
		if err != nil {
			return 0, err
		}
		m |= MaskOf(k)
	}
	return m, nil
}
