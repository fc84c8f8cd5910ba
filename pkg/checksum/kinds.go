package checksum

// FileKind describes one category of static file: how to recognize it from
// its file name, and how to reduce its raw bytes to a canonical form before
// hashing. UseForAnalysis and UseForIndex are independent: a kind can be
// indexed without being used to drive probe selection (HTML, notably, is
// too likely to vary across identical requests to be a reliable probe
// signal).
type FileKind struct {
	Name           string
	Matches        func(filename string) bool
	Normalize      func(raw []byte) ([]byte, bool)
	UseForAnalysis bool
	UseForIndex    bool
}

// registeredKinds lists file kinds in the fixed dispatch order: the first
// kind whose Matches accepts the filename wins, and if its Normalize then
// rejects the content the file is treated as unmatched rather than falling
// through to the next kind.
var registeredKinds = []FileKind{
	{
		Name:           "javascript",
		Matches:        func(name string) bool { return extOf(name) == "js" },
		Normalize:      normalizeJS,
		UseForAnalysis: true,
		UseForIndex:    true,
	},
	{
		Name:           "json",
		Matches:        func(name string) bool { return extOf(name) == "json" },
		Normalize:      normalizeJSON,
		UseForAnalysis: true,
		UseForIndex:    true,
	},
	{
		Name:           "yaml",
		Matches:        func(name string) bool { ext := extOf(name); return ext == "yaml" || ext == "yml" },
		Normalize:      normalizeYAML,
		UseForAnalysis: true,
		UseForIndex:    true,
	},
	{
		Name: "css",
		Matches: func(name string) bool {
			switch extOf(name) {
			case "css", "less", "scss":
				return true
			}
			return false
		},
		Normalize:      passthrough,
		UseForAnalysis: true,
		UseForIndex:    true,
	},
	{
		Name: "html",
		Matches: func(name string) bool {
			switch extOf(name) {
			case "htm", "html", "xhtml":
				return true
			}
			return false
		},
		Normalize:      passthrough,
		UseForAnalysis: false,
		UseForIndex:    true,
	},
	{
		Name: "image",
		Matches: func(name string) bool {
			switch extOf(name) {
			case "gif", "ico", "jpeg", "jpg", "png", "svg":
				return true
			}
			return false
		},
		Normalize:      passthrough,
		UseForAnalysis: true,
		UseForIndex:    true,
	},
	{
		Name:           "dotfile",
		Matches:        func(name string) bool { return len(baseName(name)) > 0 && baseName(name)[0] == '.' },
		Normalize:      passthrough,
		UseForAnalysis: true,
		UseForIndex:    true,
	},
	{
		Name: "extensionless",
		Matches: func(name string) bool {
			b := baseName(name)
			return b != "" && extOf(name) == ""
		},
		Normalize:      passthrough,
		UseForAnalysis: true,
		UseForIndex:    true,
	},
}

// KindForFilename walks registeredKinds in order and returns the first
// match.
func KindForFilename(name string) (*FileKind, bool) {
	for i := range registeredKinds {
		if registeredKinds[i].Matches(name) {
			return &registeredKinds[i], true
		}
	}
	return nil, false
}

// KindsForAnalysis returns the kinds whose UseForAnalysis flag is set, in
// registration order.
func KindsForAnalysis() []FileKind {
	var out []FileKind
	for _, k := range registeredKinds {
		if k.UseForAnalysis {
			out = append(out, k)
		}
	}
	return out
}

func passthrough(raw []byte) ([]byte, bool) {
	return raw, true
}
