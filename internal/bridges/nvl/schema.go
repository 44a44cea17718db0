package nvl

import (
	"encoding/binary"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Byte-order names accepted in schema documents.
const (
	// ByteOrderLittle selects little-endian decoding of the data region.
	ByteOrderLittle = "little"

	// ByteOrderBig selects big-endian decoding of the data region.
	ByteOrderBig = "big"
)

// GroupConfig declares one message group in a schema document.
// This is the YAML-facing shape; CompileSchema turns it into a Group.
type GroupConfig struct {
	// Name identifies the group. Used as the default topic segment.
	Name string `yaml:"name"`

	// COBID is the routing identifier carried in the datagram header.
	// Required, 1-65535, unique across the whole document.
	COBID int `yaml:"cob_id"`

	// ByteOrder is "little" or "big" for the data region.
	// Empty inherits the global default.
	ByteOrder string `yaml:"byte_order"`

	// HeaderBytes is the offset at which the first variable begins.
	// Values below the fixed header size are raised to it; zero inherits
	// the global default.
	HeaderBytes int `yaml:"header_bytes"`

	// Topic overrides the topic segment under the base (default: Name).
	Topic string `yaml:"topic"`

	// Vars is the ordered variable list. Required, non-empty.
	Vars []FieldConfig `yaml:"vars"`
}

// FieldConfig declares one variable within a message group.
type FieldConfig struct {
	// Name identifies the variable, unique within its group.
	// Becomes the final topic level, so MQTT separators and wildcards
	// are rejected.
	Name string `yaml:"name"`

	// Type is the IEC scalar type tag (case-insensitive).
	Type string `yaml:"type"`

	// Scale is multiplied into the decoded numeric value.
	// Absent means 1.0. Not allowed on BOOL variables.
	Scale *float64 `yaml:"scale"`

	// Precision rounds the scaled value to this many decimal places.
	// Absent means no rounding.
	Precision *int `yaml:"precision"`

	// Unit is passed through as unit_of_measurement in the payload.
	Unit string `yaml:"unit"`

	// DeviceClass is passed through as device_class in the payload.
	DeviceClass string `yaml:"device_class"`

	// Retain overrides the global retain flag for this variable.
	Retain *bool `yaml:"retain"`

	// Topic replaces the whole computed topic for this variable.
	Topic string `yaml:"topic"`
}

// SchemaFile is the shape of an external schema document: an optional
// listen-port override plus the message group list.
type SchemaFile struct {
	// Port overrides the configured UDP listen port when non-zero.
	Port int `yaml:"port"`

	// NVLs is the message group list.
	NVLs []GroupConfig `yaml:"nvls"`
}

// SchemaDefaults carries the global fallbacks applied while compiling
// group declarations.
type SchemaDefaults struct {
	// ByteOrder is the default data-region byte order ("little" or
	// "big"). Empty means little-endian.
	ByteOrder string

	// HeaderBytes is the default decode offset. Values below the fixed
	// header size are raised to it.
	HeaderBytes int
}

// Field is a compiled variable definition.
type Field struct {
	// Name is the variable name, unique within the group.
	Name string

	// Type is the resolved scalar type.
	Type ScalarType

	// Scale is multiplied into the decoded value (1.0 = unscaled).
	Scale float64

	// Precision is the number of decimal places to round the scaled
	// value to. Negative disables rounding.
	Precision int

	// Unit is the unit_of_measurement passthrough (may be empty).
	Unit string

	// DeviceClass is the device_class passthrough (may be empty).
	DeviceClass string

	// Retain overrides the global retain flag when non-nil.
	Retain *bool

	// Topic replaces the computed topic when non-empty.
	Topic string
}

// Group is a compiled message group.
type Group struct {
	// Name identifies the group in logs and diagnostics.
	Name string

	// COBID is the routing identifier this group matches.
	COBID uint16

	// Order decodes the data region.
	Order binary.ByteOrder

	// HeaderBytes is the offset of the first variable. Never below the
	// fixed header size.
	HeaderBytes int

	// Topic is the topic segment between the base and the variable name.
	Topic string

	// Fields is the ordered variable list.
	Fields []Field
}

// DataBytes returns the number of payload bytes the group's variables
// consume after the header offset.
func (g *Group) DataBytes() int {
	n := 0
	for _, f := range g.Fields {
		n += f.Type.Width()
	}
	return n
}

// Table maps COB-IDs to their compiled message group. Built once at
// load time, read-only afterwards.
type Table map[uint16]*Group

// LoadSchemaFile reads an external schema document from a YAML file.
//
// The file carries a `port` override and the `nvls` group list; the
// groups still need CompileSchema before use.
//
// Parameters:
//   - path: Path to the schema YAML file
//
// Returns:
//   - *SchemaFile: Parsed document
//   - error: ErrSchema if the file cannot be read or parsed
func LoadSchemaFile(path string) (*SchemaFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading schema file: %w", ErrSchema, err)
	}

	var sf SchemaFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("%w: parsing schema file: %w", ErrSchema, err)
	}

	if sf.Port < 0 || sf.Port > 65535 {
		return nil, fmt.Errorf("%w: port %d out of range", ErrSchema, sf.Port)
	}

	return &sf, nil
}

// CompileSchema validates a schema document and builds the routing table.
//
// Every violation across the whole document is collected and reported in
// one error, so a bad schema surfaces all its problems on the first run
// rather than one per restart.
//
// Parameters:
//   - groups: Message group declarations from config or schema file
//   - defaults: Global byte order and header length fallbacks
//
// Returns:
//   - Table: COB-ID to compiled group lookup table
//   - error: ErrSchema listing every violation, or nil
func CompileSchema(groups []GroupConfig, defaults SchemaDefaults) (Table, error) {
	var errs []string

	defaultOrder, ok := parseByteOrder(defaults.ByteOrder)
	if !ok {
		errs = append(errs, fmt.Sprintf("default byte_order %q is invalid (use little or big)", defaults.ByteOrder))
		defaultOrder = binary.LittleEndian
	}

	if len(groups) == 0 {
		errs = append(errs, "schema has no message groups")
	}

	table := make(Table, len(groups))
	names := make(map[string]bool)
	cobs := make(map[int]bool)

	for i, gc := range groups {
		g, gerrs := compileGroup(i, gc, defaultOrder, defaults.HeaderBytes)
		errs = append(errs, gerrs...)

		if gc.Name != "" {
			if names[gc.Name] {
				errs = append(errs, fmt.Sprintf("nvls[%d].name %q is duplicate", i, gc.Name))
			}
			names[gc.Name] = true
		}

		if gc.COBID != 0 {
			if cobs[gc.COBID] {
				errs = append(errs, fmt.Sprintf("nvls[%d].cob_id %d is duplicate", i, gc.COBID))
			}
			cobs[gc.COBID] = true
		}

		if len(gerrs) == 0 {
			table[g.COBID] = g
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: %s", ErrSchema, strings.Join(errs, "; "))
	}

	return table, nil
}

// compileGroup validates and compiles a single group declaration.
func compileGroup(idx int, gc GroupConfig, defaultOrder binary.ByteOrder, defaultHeader int) (*Group, []string) {
	var errs []string

	if gc.Name == "" {
		errs = append(errs, fmt.Sprintf("nvls[%d].name is required", idx))
	}

	if gc.COBID == 0 {
		errs = append(errs, fmt.Sprintf("nvls[%d].cob_id is required", idx))
	} else if gc.COBID < 0 || gc.COBID > 65535 {
		errs = append(errs, fmt.Sprintf("nvls[%d].cob_id %d out of range (1-65535)", idx, gc.COBID))
	}

	order := defaultOrder
	if gc.ByteOrder != "" {
		o, ok := parseByteOrder(gc.ByteOrder)
		if !ok {
			errs = append(errs, fmt.Sprintf("nvls[%d].byte_order %q is invalid (use little or big)", idx, gc.ByteOrder))
		} else {
			order = o
		}
	}

	headerBytes := gc.HeaderBytes
	if headerBytes == 0 {
		headerBytes = defaultHeader
	}
	if headerBytes < HeaderSize {
		// The fixed header always occupies the first 20 bytes; a smaller
		// offset would decode header bytes as data.
		headerBytes = HeaderSize
	}

	topic := gc.Topic
	if topic == "" {
		topic = gc.Name
	}
	if strings.ContainsAny(topic, "+#") {
		errs = append(errs, fmt.Sprintf("nvls[%d].topic %q contains MQTT wildcard characters", idx, topic))
	}

	if len(gc.Vars) == 0 {
		errs = append(errs, fmt.Sprintf("nvls[%d].vars must have at least one variable", idx))
	}

	fields := make([]Field, 0, len(gc.Vars))
	fieldNames := make(map[string]bool)
	for j, fc := range gc.Vars {
		f, ferrs := compileField(idx, j, fc)
		errs = append(errs, ferrs...)

		if fc.Name != "" {
			if fieldNames[fc.Name] {
				errs = append(errs, fmt.Sprintf("nvls[%d].vars[%d].name %q is duplicate", idx, j, fc.Name))
			}
			fieldNames[fc.Name] = true
		}

		fields = append(fields, f)
	}

	g := &Group{
		Name:        gc.Name,
		COBID:       uint16(gc.COBID), //nolint:gosec // range checked above
		Order:       order,
		HeaderBytes: headerBytes,
		Topic:       topic,
		Fields:      fields,
	}

	return g, errs
}

// compileField validates and compiles a single variable declaration.
func compileField(groupIdx, idx int, fc FieldConfig) (Field, []string) {
	var errs []string

	if fc.Name == "" {
		errs = append(errs, fmt.Sprintf("nvls[%d].vars[%d].name is required", groupIdx, idx))
	} else if strings.ContainsAny(fc.Name, "/+#") {
		errs = append(errs, fmt.Sprintf("nvls[%d].vars[%d].name %q contains MQTT separator or wildcard characters", groupIdx, idx, fc.Name))
	}

	typ, err := ParseScalarType(fc.Type)
	if err != nil {
		errs = append(errs, fmt.Sprintf("nvls[%d].vars[%d].type %q is not a known scalar type", groupIdx, idx, fc.Type))
	}

	scale := 1.0
	if fc.Scale != nil {
		scale = *fc.Scale
		if scale == 0 {
			errs = append(errs, fmt.Sprintf("nvls[%d].vars[%d].scale must be non-zero", groupIdx, idx))
		}
		if err == nil && !typ.IsNumeric() && scale != 1.0 {
			errs = append(errs, fmt.Sprintf("nvls[%d].vars[%d]: scale on BOOL is not meaningful", groupIdx, idx))
		}
	}

	precision := -1
	if fc.Precision != nil {
		precision = *fc.Precision
		if precision < 0 {
			errs = append(errs, fmt.Sprintf("nvls[%d].vars[%d].precision must be >= 0", groupIdx, idx))
		}
	}

	if strings.ContainsAny(fc.Topic, "+#") {
		errs = append(errs, fmt.Sprintf("nvls[%d].vars[%d].topic %q contains MQTT wildcard characters", groupIdx, idx, fc.Topic))
	}

	f := Field{
		Name:        fc.Name,
		Type:        typ,
		Scale:       scale,
		Precision:   precision,
		Unit:        fc.Unit,
		DeviceClass: fc.DeviceClass,
		Retain:      fc.Retain,
		Topic:       fc.Topic,
	}

	return f, errs
}

// parseByteOrder maps a byte-order name to its binary.ByteOrder.
// The empty string selects little-endian, the protocol's native order.
func parseByteOrder(name string) (binary.ByteOrder, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", ByteOrderLittle:
		return binary.LittleEndian, true
	case ByteOrderBig:
		return binary.BigEndian, true
	default:
		return nil, false
	}
}
