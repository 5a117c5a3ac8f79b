package classify

import (
	"github.com/hearthwatch/hearthwatch/internal/fingerprint"
	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// dhcpSignature is one known DHCP parameter-request fingerprint.
type dhcpSignature struct {
	options    []int
	vendor     string
	deviceType models.DeviceType
	confidence float64
}

// DHCPTable maps hashed DHCP option sets to classifications. Hashes are
// computed at construction with the same function the extractor uses,
// so a table hit is an exact option-set match.
type DHCPTable struct {
	byHash map[string]Result
}

// NewDHCPTable creates the table with the bundled signatures.
func NewDHCPTable() *DHCPTable {
	t := &DHCPTable{byHash: make(map[string]Result, len(dhcpSignatures))}
	for _, sig := range dhcpSignatures {
		h := fingerprint.HashDHCPOptions(sig.options)
		t.byHash[h] = Result{
			Manufacturer: sig.vendor,
			DeviceType:   sig.deviceType,
			Confidence:   sig.confidence,
			Source:       SourceDHCP,
		}
	}
	return t
}

// Classify looks up a DHCP option-set hash.
func (t *DHCPTable) Classify(dhcpHash string) (Result, bool) {
	r, ok := t.byHash[dhcpHash]
	return r, ok
}

// dhcpSignatures lists parameter-request option sets with a known
// single origin. Sets are canonicalized by HashDHCPOptions, so the
// listed order is irrelevant.
var dhcpSignatures = []dhcpSignature{
	{[]int{1, 121, 3, 6, 15, 119, 252, 95, 44, 46}, "Apple", models.DeviceTypeLaptop, 0.70},
	{[]int{1, 121, 3, 6, 15, 119, 252}, "Apple", models.DeviceTypePhone, 0.65},
	{[]int{1, 3, 6, 15, 31, 33, 43, 44, 46, 47, 119, 121, 249, 252}, "Microsoft", models.DeviceTypeDesktop, 0.65},
	{[]int{1, 3, 6, 15, 26, 28, 51, 58, 59, 43}, "Android", models.DeviceTypePhone, 0.60},
	{[]int{1, 3, 6, 15, 26, 28, 51, 58, 59}, "Android", models.DeviceTypePhone, 0.55},
	{[]int{1, 28, 2, 3, 15, 6, 119, 12, 44, 47, 26, 121, 42}, "Linux dhclient", models.DeviceTypeServer, 0.50},
	{[]int{1, 3, 6, 12, 15, 28, 42}, "Busybox udhcpc", models.DeviceTypeIoT, 0.60},
	{[]int{1, 3, 28, 6}, "Espressif", models.DeviceTypeIoT, 0.65},
	{[]int{1, 3, 6, 15}, "Embedded TCP/IP", models.DeviceTypeIoT, 0.50},
	{[]int{1, 3, 6, 15, 119, 78, 79, 95, 252}, "Apple", models.DeviceTypeTV, 0.60},
	{[]int{1, 3, 6, 15, 28, 33}, "Sonos", models.DeviceTypeSpeaker, 0.70},
	{[]int{1, 3, 6, 12, 15, 17, 23, 28, 29, 31, 33, 40, 41, 42}, "HP", models.DeviceTypePrinter, 0.70},
}
