package classify

import (
	"regexp"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// mdnsRule maps a hostname pattern to a classification. Patterns are
// anchored; the first full match wins.
type mdnsRule struct {
	pattern    *regexp.Regexp
	vendor     string
	deviceType models.DeviceType
	model      string
	confidence float64
}

// MDNSBank matches normalized mDNS hostnames against a rule bank.
type MDNSBank struct {
	rules []mdnsRule
}

// NewMDNSBank creates the bank with the bundled rules.
func NewMDNSBank() *MDNSBank {
	return &MDNSBank{rules: mdnsRules}
}

// Classify returns the first rule that fully matches the hostname.
func (b *MDNSBank) Classify(hostname string) (Result, bool) {
	for _, r := range b.rules {
		if r.pattern.MatchString(hostname) {
			return Result{
				Manufacturer: r.vendor,
				DeviceType:   r.deviceType,
				Model:        r.model,
				Confidence:   r.confidence,
				Source:       SourceMDNS,
			}, true
		}
	}
	return Result{}, false
}

var mdnsRules = []mdnsRule{
	{regexp.MustCompile(`^.*-?macbook(-pro|-air)?(-\d+)?$`), "Apple", models.DeviceTypeLaptop, "MacBook", 0.90},
	{regexp.MustCompile(`^.*-?imac(-\d+)?$`), "Apple", models.DeviceTypeDesktop, "iMac", 0.90},
	{regexp.MustCompile(`^.*-?mac-?mini(-\d+)?$`), "Apple", models.DeviceTypeDesktop, "Mac mini", 0.90},
	{regexp.MustCompile(`^.*-?iphone(-\d+)?$`), "Apple", models.DeviceTypePhone, "iPhone", 0.90},
	{regexp.MustCompile(`^.*-?ipad(-\d+)?$`), "Apple", models.DeviceTypeTablet, "iPad", 0.90},
	{regexp.MustCompile(`^apple-?tv(-\d+)?$`), "Apple", models.DeviceTypeTV, "Apple TV", 0.90},
	{regexp.MustCompile(`^homepod(-\d+)?$`), "Apple", models.DeviceTypeSpeaker, "HomePod", 0.90},
	{regexp.MustCompile(`^chromecast(-.*)?$`), "Google", models.DeviceTypeTV, "Chromecast", 0.90},
	{regexp.MustCompile(`^google-?home(-.*)?$`), "Google", models.DeviceTypeSpeaker, "Google Home", 0.90},
	{regexp.MustCompile(`^google-?nest-?(hub|mini|audio)(-.*)?$`), "Google", models.DeviceTypeSpeaker, "Nest", 0.90},
	{regexp.MustCompile(`^sonos.*$`), "Sonos", models.DeviceTypeSpeaker, "", 0.90},
	{regexp.MustCompile(`^.*-?roku-?.*$`), "Roku", models.DeviceTypeTV, "", 0.85},
	{regexp.MustCompile(`^amazon-?(echo|alexa).*$`), "Amazon", models.DeviceTypeSpeaker, "Echo", 0.85},
	{regexp.MustCompile(`^(dis)?kindle.*$`), "Amazon", models.DeviceTypeTablet, "Kindle", 0.80},
	{regexp.MustCompile(`^hp(\d+|-).*$`), "HP", models.DeviceTypePrinter, "", 0.70},
	{regexp.MustCompile(`^epson.*$`), "Epson", models.DeviceTypePrinter, "", 0.85},
	{regexp.MustCompile(`^brother.*$`), "Brother", models.DeviceTypePrinter, "", 0.85},
	{regexp.MustCompile(`^(canon|mx|mg|pixma)\w*$`), "Canon", models.DeviceTypePrinter, "", 0.75},
	{regexp.MustCompile(`^synology.*$|^diskstation.*$|^ds\d{3,4}\w*$`), "Synology", models.DeviceTypeNAS, "DiskStation", 0.85},
	{regexp.MustCompile(`^qnap.*$|^ts-\d+\w*$`), "QNAP", models.DeviceTypeNAS, "", 0.85},
	{regexp.MustCompile(`^raspberrypi(-\d+)?$|^rpi(-.*)?$`), "Raspberry Pi", models.DeviceTypeServer, "Raspberry Pi", 0.85},
	{regexp.MustCompile(`^esp[-_]?\w*$`), "Espressif", models.DeviceTypeIoT, "", 0.75},
	{regexp.MustCompile(`^shelly\w*(-\w+)*$`), "Shelly", models.DeviceTypeSmartHome, "", 0.90},
	{regexp.MustCompile(`^tasmota\w*(-\w+)*$`), "Tasmota", models.DeviceTypeSmartHome, "", 0.85},
	{regexp.MustCompile(`^wled-.*$`), "WLED", models.DeviceTypeSmartHome, "", 0.85},
	{regexp.MustCompile(`^homeassistant$|^hassio$`), "Home Assistant", models.DeviceTypeSmartHome, "Home Assistant", 0.90},
	{regexp.MustCompile(`^ring-?.*$`), "Ring", models.DeviceTypeCamera, "", 0.80},
	{regexp.MustCompile(`^wyze-?cam.*$`), "Wyze", models.DeviceTypeCamera, "Wyze Cam", 0.90},
	{regexp.MustCompile(`^(galaxy|sm-)\w*(-\w+)*$`), "Samsung", models.DeviceTypePhone, "Galaxy", 0.75},
	{regexp.MustCompile(`^.*-?playstation(-\d+)?$|^ps[45](-\d+)?$`), "Sony", models.DeviceTypeIoT, "PlayStation", 0.85},
	{regexp.MustCompile(`^xbox.*$`), "Microsoft", models.DeviceTypeIoT, "Xbox", 0.85},
}
