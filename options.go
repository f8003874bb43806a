package mmdbwriter

// IntType selects the width used to encode untyped Go integers inserted as
// record values. "auto" (the default) picks the narrowest unsigned width
// that fits non-negative values and falls back to Int32 for negative ones,
// matching the narrowing ladder the original Python writer uses. Any other
// value forces every untyped integer to that width and rejects values that
// do not fit.
type IntType string

// Supported IntType values.
const (
	IntTypeAuto    IntType = "auto"
	IntTypeUint16  IntType = "u16"
	IntTypeUint32  IntType = "u32"
	IntTypeUint64  IntType = "u64"
	IntTypeUint128 IntType = "u128"
	IntTypeInt32   IntType = "i32"
)

// FloatType selects the width used to encode untyped Go float64 values
// inserted as record values.
type FloatType string

// Supported FloatType values.
const (
	FloatTypeF32 FloatType = "f32"
	FloatTypeF64 FloatType = "f64"
)

// Options holds configuration parameters for the writer.
type Options struct {
	// BuildEpoch is the database build timestamp as a Unix epoch value. It
	// defaults to the epoch of when New was called. Exposed so tests can
	// freeze it and get byte-identical output across runs.
	BuildEpoch int64

	// DatabaseType is a string that indicates the structure of each data
	// record associated with an IP address. The actual definition of these
	// structures is left up to the database creator.
	DatabaseType string

	// Description is a map where the key is a language code and the value
	// is the description of the database in that language. A plain string
	// may be used instead, in which case it is applied as the description
	// for every language in Languages.
	Description interface{}

	// IPVersion indicates whether an IPv4 or IPv6 database should be built.
	// An IPv6 database supports both IPv4 and IPv6 lookups. The default
	// value is 6.
	IPVersion int

	// IPv4Compatible allows IPv4 networks to be inserted into an IPv6 tree.
	// They are stored mapped under ::ffff:0:0/96, i.e. a v4 prefix of
	// length n becomes a v6 prefix of length n+96. It is an error to set
	// this when IPVersion is 4.
	IPv4Compatible bool

	// Languages is a slice of strings, each of which is a locale code. A
	// given record may contain data items that have been localized to some
	// or all of these locales. Records should not contain localized data
	// for locales not included in this slice.
	Languages []string

	// IntType controls how untyped Go integers are encoded. It defaults to
	// IntTypeAuto.
	IntType IntType

	// FloatType controls how untyped Go float64 values are encoded. It
	// defaults to FloatTypeF64.
	FloatType FloatType

	// RecordSize indicates the number of bits in a record in the search
	// tree. The supported values are 24, 28, and 32. When zero, the
	// narrowest size that fits the data is chosen automatically at
	// serialization time, per spec; setting it fixes the size instead (and
	// serialization fails with a CapacityError if it turns out to be too
	// small).
	RecordSize int
}

const (
	binaryFormatMajorVersion = 2
	binaryFormatMinorVersion = 0
)

func (o *Options) validate() error {
	switch o.IPVersion {
	case 0, 4, 6:
	default:
		return newConfigError("unsupported IPVersion: %d", o.IPVersion)
	}

	if o.IPVersion == 4 && o.IPv4Compatible {
		return newConfigError("IPv4Compatible can only be set when IPVersion is 6")
	}

	switch o.RecordSize {
	case 0, 24, 28, 32:
	default:
		return newConfigError("unsupported RecordSize: %d", o.RecordSize)
	}

	switch o.IntType {
	case "", IntTypeAuto, IntTypeUint16, IntTypeUint32, IntTypeUint64, IntTypeUint128, IntTypeInt32:
	default:
		return newConfigError("unknown IntType: %q", o.IntType)
	}

	switch o.FloatType {
	case "", FloatTypeF32, FloatTypeF64:
	default:
		return newConfigError("unknown FloatType: %q", o.FloatType)
	}

	description, err := normalizeDescription(o.Description, o.Languages)
	if err != nil {
		return err
	}
	for _, lang := range o.Languages {
		if _, ok := description[lang]; !ok {
			return newConfigError("language %q must have a description", lang)
		}
	}

	return nil
}

// normalizeDescription turns the polymorphic Options.Description (a plain
// string applied to every language, a map[string]string, or nil) into a
// map[string]string.
func normalizeDescription(d interface{}, languages []string) (map[string]string, error) {
	switch v := d.(type) {
	case nil:
		return map[string]string{}, nil
	case string:
		out := make(map[string]string, len(languages))
		for _, lang := range languages {
			out[lang] = v
		}
		return out, nil
	case map[string]string:
		return v, nil
	default:
		return nil, newConfigError("Description must be a string or map[string]string, got %T", d)
	}
}
