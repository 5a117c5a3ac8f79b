package mimic

import (
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/hearthwatch/hearthwatch/pkg/models"
)

// hopByHopHeaders never survive into a replayed route: the emulator
// writes its own framing.
var hopByHopHeaders = map[string]bool{
	"transfer-encoding": true,
	"connection":        true,
	"keep-alive":        true,
	"content-length":    true,
	"content-encoding":  true,
}

// categoryByType maps inventory device types to impersonation styles.
var categoryByType = map[models.DeviceType]models.MimicCategory{
	models.DeviceTypeCamera:      models.MimicCamera,
	models.DeviceTypeNAS:         models.MimicNAS,
	models.DeviceTypeTV:          models.MimicMedia,
	models.DeviceTypeSpeaker:     models.MimicMedia,
	models.DeviceTypePrinter:     models.MimicPrinter,
	models.DeviceTypeRouter:      models.MimicRouter,
	models.DeviceTypeSwitch:      models.MimicRouter,
	models.DeviceTypeAccessPoint: models.MimicRouter,
	models.DeviceTypeSmartHome:   models.MimicSmartHome,
	models.DeviceTypeIoT:         models.MimicSmartHome,
	models.DeviceTypeServer:      models.MimicDevServer,
	models.DeviceTypeDesktop:     models.MimicDevServer,
	models.DeviceTypeLaptop:      models.MimicDevServer,
}

// credentialByCategory picks the planted credential shape that fits the
// story each category tells.
var credentialByCategory = map[models.MimicCategory]models.CredentialType{
	models.MimicSmartHome: models.CredentialBearerToken,
	models.MimicCamera:    models.CredentialUserPass,
	models.MimicNAS:       models.CredentialUserPass,
	models.MimicMedia:     models.CredentialBearerToken,
	models.MimicPrinter:   models.CredentialUserPass,
	models.MimicRouter:    models.CredentialUserPass,
	models.MimicDevServer: models.CredentialEnvFile,
	models.MimicGeneric:   models.CredentialUserPass,
}

// mdnsTypeByCategory advertises the service record real devices of that
// kind announce.
var mdnsTypeByCategory = map[models.MimicCategory]string{
	models.MimicSmartHome: "_hap._tcp",
	models.MimicCamera:    "_rtsp._tcp",
	models.MimicNAS:       "_smb._tcp",
	models.MimicMedia:     "_airplay._tcp",
	models.MimicPrinter:   "_ipp._tcp",
	models.MimicRouter:    "_http._tcp",
	models.MimicDevServer: "_http._tcp",
	models.MimicGeneric:   "_http._tcp",
}

// mdnsPrefixByCategory seeds the advertised instance name.
var mdnsPrefixByCategory = map[models.MimicCategory]string{
	models.MimicSmartHome: "bridge",
	models.MimicCamera:    "cam",
	models.MimicNAS:       "storage",
	models.MimicMedia:     "media",
	models.MimicPrinter:   "printer",
	models.MimicRouter:    "gateway",
	models.MimicDevServer: "devbox",
	models.MimicGeneric:   "device",
}

// CategoryFor maps a device type to its mimic category.
func CategoryFor(t models.DeviceType) models.MimicCategory {
	if c, ok := categoryByType[t]; ok {
		return c
	}
	return models.MimicGeneric
}

// BuildTemplate synthesizes a mimic blueprint from a real device's
// scouted service profiles. MDNSName is filled in once a virtual IP is
// assigned; everything else is complete.
func BuildTemplate(device *models.Device, profiles []models.ServiceProfile) (models.MimicTemplate, error) {
	if len(profiles) == 0 {
		return models.MimicTemplate{}, fmt.Errorf("device %s has no service profiles: %w",
			device.ID, models.ErrValidation)
	}

	category := CategoryFor(device.DeviceType)
	tmpl := models.MimicTemplate{
		SourceDeviceID:     device.ID,
		Category:           category,
		CredentialStrategy: credentialByCategory[category],
		MDNSServiceType:    mdnsTypeByCategory[category],
	}

	serverVotes := make(map[string]int)
	seenPorts := make(map[int]bool)
	for _, p := range profiles {
		if !seenPorts[p.Port] {
			seenPorts[p.Port] = true
			tmpl.Ports = append(tmpl.Ports, p.Port)
		}

		if p.HTTPStatus == 0 {
			continue
		}
		headers := make(map[string]string, len(p.Headers))
		for k, v := range p.Headers {
			if hopByHopHeaders[strings.ToLower(k)] {
				continue
			}
			headers[k] = v
		}
		if srv := headers["Server"]; srv != "" {
			serverVotes[srv]++
		}
		tmpl.Routes = append(tmpl.Routes, models.MimicRoute{
			Port:    p.Port,
			Path:    "/",
			Method:  http.MethodGet,
			Status:  p.HTTPStatus,
			Headers: headers,
			Body:    p.BodySnippet,
		})
	}

	best := 0
	for srv, votes := range serverVotes {
		if votes > best {
			best = votes
			tmpl.ServerHeader = srv
		}
	}
	return tmpl, nil
}

// MDNSName derives a stable advertised name from the category and the
// virtual IP, so the same deployment always reappears under the same
// name.
func MDNSName(category models.MimicCategory, virtualIP string) string {
	prefix := mdnsPrefixByCategory[category]
	if prefix == "" {
		prefix = "device"
	}
	ip := net.ParseIP(virtualIP).To4()
	if ip == nil {
		return prefix
	}
	return fmt.Sprintf("%s-%d", prefix, ip[3])
}
