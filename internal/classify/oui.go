package classify

import (
	"strings"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// bulkConfidenceCap bounds the confidence of a bulk-table hit; the bulk
// IEEE registry proves the vendor but says nothing about device type.
const bulkConfidenceCap = 0.45

// ouiEntry is one curated OUI classification.
type ouiEntry struct {
	vendor     string
	deviceType models.DeviceType
	confidence float64
}

// OUITable resolves MAC prefixes (first 3 octets) to manufacturers in
// two tiers: the hand-curated table wins over the bulk IEEE table.
type OUITable struct {
	curated map[string]ouiEntry
	bulk    map[string]string
}

// NewOUITable creates the table with the bundled entries.
func NewOUITable() *OUITable {
	return &OUITable{
		curated: curatedOUI,
		bulk:    bulkOUI,
	}
}

// AddBulk merges additional prefix→vendor pairs, e.g. loaded from a
// downloaded IEEE registry file. Curated entries still win.
func (t *OUITable) AddBulk(entries map[string]string) {
	for prefix, vendor := range entries {
		t.bulk[normalizePrefix(prefix)] = vendor
	}
}

// Classify looks up the MAC's vendor prefix. Curated hits carry their
// own device type and confidence; bulk hits yield type unknown at
// capped confidence.
func (t *OUITable) Classify(mac string) (Result, bool) {
	prefix := normalizePrefix(mac)
	if len(prefix) < 8 {
		return Result{}, false
	}
	prefix = prefix[:8]

	if e, ok := t.curated[prefix]; ok {
		return Result{
			Manufacturer: e.vendor,
			DeviceType:   e.deviceType,
			Confidence:   e.confidence,
			Source:       SourceOUI,
		}, true
	}
	if vendor, ok := t.bulk[prefix]; ok {
		return Result{
			Manufacturer: vendor,
			DeviceType:   models.DeviceTypeUnknown,
			Confidence:   bulkConfidenceCap,
			Source:       SourceOUI,
		}, true
	}
	return Result{}, false
}

// Vendor returns just the manufacturer name for a MAC, if known.
func (t *OUITable) Vendor(mac string) string {
	r, ok := t.Classify(mac)
	if !ok {
		return ""
	}
	return r.Manufacturer
}

func normalizePrefix(mac string) string {
	s := strings.ToUpper(strings.TrimSpace(mac))
	s = strings.ReplaceAll(s, "-", ":")
	return s
}

// curatedOUI is the hand-maintained tier: prefixes common on home
// networks where the vendor strongly implies a device type.
var curatedOUI = map[string]ouiEntry{
	"A4:83:E7": {"Apple", models.DeviceTypeLaptop, 0.80},
	"F0:18:98": {"Apple", models.DeviceTypePhone, 0.80},
	"AC:BC:32": {"Apple", models.DeviceTypeLaptop, 0.80},
	"3C:22:FB": {"Apple", models.DeviceTypeDesktop, 0.80},
	"B8:27:EB": {"Raspberry Pi Foundation", models.DeviceTypeServer, 0.85},
	"DC:A6:32": {"Raspberry Pi Trading", models.DeviceTypeServer, 0.85},
	"E4:5F:01": {"Raspberry Pi Trading", models.DeviceTypeServer, 0.85},
	"18:B4:30": {"Nest Labs", models.DeviceTypeSmartHome, 0.85},
	"64:16:66": {"Nest Labs", models.DeviceTypeSmartHome, 0.85},
	"50:14:79": {"iRobot", models.DeviceTypeSmartHome, 0.85},
	"70:EE:50": {"Netatmo", models.DeviceTypeSmartHome, 0.85},
	"D0:73:D5": {"LIFX", models.DeviceTypeSmartHome, 0.85},
	"EC:B5:FA": {"Philips Lighting", models.DeviceTypeSmartHome, 0.85},
	"00:17:88": {"Philips Lighting", models.DeviceTypeSmartHome, 0.85},
	"5C:CF:7F": {"Espressif", models.DeviceTypeIoT, 0.75},
	"24:0A:C4": {"Espressif", models.DeviceTypeIoT, 0.75},
	"84:F3:EB": {"Espressif", models.DeviceTypeIoT, 0.75},
	"B0:4E:26": {"TP-Link", models.DeviceTypeRouter, 0.70},
	"50:C7:BF": {"TP-Link", models.DeviceTypeRouter, 0.70},
	"04:18:D6": {"Ubiquiti", models.DeviceTypeAccessPoint, 0.80},
	"74:AC:B9": {"Ubiquiti", models.DeviceTypeAccessPoint, 0.80},
	"FC:EC:DA": {"Ubiquiti", models.DeviceTypeAccessPoint, 0.80},
	"00:11:32": {"Synology", models.DeviceTypeNAS, 0.90},
	"00:08:9B": {"QNAP", models.DeviceTypeNAS, 0.90},
	"B8:A1:75": {"Roku", models.DeviceTypeTV, 0.85},
	"D8:31:34": {"Roku", models.DeviceTypeTV, 0.85},
	"5C:AA:FD": {"Sonos", models.DeviceTypeSpeaker, 0.90},
	"94:9F:3E": {"Sonos", models.DeviceTypeSpeaker, 0.90},
	"FC:65:DE": {"Amazon", models.DeviceTypeSpeaker, 0.75},
	"44:65:0D": {"Amazon", models.DeviceTypeSpeaker, 0.75},
	"F0:D2:F1": {"Amazon", models.DeviceTypeSpeaker, 0.75},
	"30:8C:FB": {"Ring", models.DeviceTypeCamera, 0.85},
	"00:62:6E": {"Wyze Labs", models.DeviceTypeCamera, 0.85},
	"9C:8E:CD": {"Amcrest", models.DeviceTypeCamera, 0.85},
	"00:80:77": {"Brother", models.DeviceTypePrinter, 0.90},
	"00:1B:A9": {"Brother", models.DeviceTypePrinter, 0.90},
	"00:26:73": {"Ricoh", models.DeviceTypePrinter, 0.90},
}

// bulkOUI stands in for the downloaded IEEE registry: vendor names only,
// no device-type inference.
var bulkOUI = map[string]string{
	"00:1A:2B": "Ayecom Technology",
	"00:50:56": "VMware",
	"00:0C:29": "VMware",
	"52:54:00": "QEMU",
	"00:15:5D": "Microsoft",
	"3C:5A:B4": "Google",
	"F4:F5:D8": "Google",
	"94:EB:2C": "Google",
	"00:1D:63": "Miele",
	"28:6D:97": "Samjin",
	"D8:F1:5B": "Espressif",
	"8C:85:90": "Apple",
	"F8:FF:C2": "Apple",
	"68:D9:3C": "Apple",
	"00:16:6C": "Samsung",
	"8C:77:12": "Samsung",
	"78:BD:BC": "Samsung",
	"00:12:FB": "Samsung",
	"FC:F1:36": "Samsung",
	"18:E8:29": "Ubiquiti",
	"24:5A:4C": "Ubiquiti",
	"00:04:20": "Slim Devices",
	"48:A6:B8": "Sonos",
	"00:0E:58": "Sonos",
	"EC:71:DB": "Reolink",
	"00:23:24": "G-PRO Computer",
	"2C:AA:8E": "Wyze Labs",
	"A0:CE:C8": "CE Link",
	"60:01:94": "Espressif",
	"BC:DD:C2": "Espressif",
	"10:52:1C": "Espressif",
	"C4:4F:33": "Espressif",
	"B4:E6:2D": "Espressif",
	"CC:50:E3": "Espressif",
	"D4:A6:51": "Beijing Xiaomi",
	"64:90:C1": "Beijing Xiaomi",
	"78:11:DC": "Xiaomi Communications",
	"04:CF:8C": "Xiaomi Communications",
	"00:24:E4": "Withings",
	"00:26:66": "EFM Networks",
	"B0:BE:76": "TP-Link",
	"C0:06:C3": "TP-Link",
	"98:DA:C4": "TP-Link",
	"00:14:BF": "Linksys",
	"48:F8:B3": "Linksys",
	"C0:56:27": "Belkin",
	"EC:1A:59": "Belkin",
	"94:10:3E": "Belkin",
	"00:24:36": "Apple",
	"00:03:93": "Apple",
}
