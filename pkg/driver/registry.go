package driver

import "fmt"

// Family distinguishes the two protocol back-ends a firmware name maps to.
type Family int

const (
	FamilyText Family = iota
	FamilyBinary
)

// Factory constructs a driver bound to a serial device path.
type Factory func(devicePath string) (Driver, error)

// registryEntry pairs a firmware's protocol family with its constructor.
type registryEntry struct {
	family  Family
	factory Factory
}

// Registry maps firmware names to constructors, mirroring DriverFactory's
// static name table (MarlinDriver::getSupportedFirmwareTypes /
// MakerbotDriver::getSupportedFirmwareTypes in original_source).
type Registry struct {
	entries map[string]registryEntry
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]registryEntry)}
}

// Register binds a firmware name to a family and factory.
func (r *Registry) Register(name string, family Family, factory Factory) {
	r.entries[name] = registryEntry{family: family, factory: factory}
}

// Create constructs the driver for a given firmware name.
func (r *Registry) Create(name, devicePath string) (Driver, error) {
	e, ok := r.entries[name]
	if !ok {
		return nil, fmt.Errorf("driver: unsupported firmware %q", name)
	}
	return e.factory(devicePath)
}

// Family reports which protocol family a firmware name belongs to.
func (r *Registry) Family(name string) (Family, bool) {
	e, ok := r.entries[name]
	return e.family, ok
}

// Names lists every registered firmware name.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.entries))
	for n := range r.entries {
		names = append(names, n)
	}
	return names
}

// TextFirmwareNames is the Marlin-family firmware list from
// MarlinDriver::getDriverInfo in original_source, preserved verbatim
// (46 names).
var TextFirmwareNames = []string{
	"rigidbot", "ultimaker", "ultimaker2", "ultimaker2go",
	"ultimaker_original_plus", "renkforce_rf100", "printrbot", "bukobot",
	"cartesio", "cyrus", "delta_rostockmax", "deltamaker", "eventorbot",
	"felix", "gigabot", "kossel", "leapfrog_creatr", "lulzbot_aO_101",
	"lulzbot_taz_4", "makergear_m2", "makergear_prusa", "makibox",
	"orca_0_3", "ord_bot_hadron", "printxel_3d", "prusa_i3",
	"prusa_iteration_2", "rapman", "reprappro_huxley", "reprappro_mendel",
	"robo_3d_printer", "shapercube", "tantillus", "minifactory",
	"vision_3d_printer", "builder3d", "bigbuilder3d", "mamba3d",
	"marlin_generic", "doodle_dream", "colido_2_0_plus", "colido_m2020",
	"colido_x3045", "colido_compact", "colido_diy", "craftbot_plus",
}

// BinaryFirmwareNames is the Makerbot/s3g-family firmware list from
// MakerbotDriver::getDriverInfo in original_source.
var BinaryFirmwareNames = []string{
	"_3Dison_plus", "makerbot_replicator2", "makerbot_replicator2x",
	"makerbot_thingomatic", "makerbot_generic", "wanhao_duplicator4",
}
