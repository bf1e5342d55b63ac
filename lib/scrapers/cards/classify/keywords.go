package classify

// KeywordTable holds the keyword sets driving image and text
// classification. The sets are pure data: swapping in a different
// table retunes classification without touching any logic.
type KeywordTable struct {
	Version string

	// Portrait indicators in file names, alt text and titles.
	Portrait []string
	// UI chrome, logos and avatar placeholders. Always filtered.
	UILogo []string
	// Medical/educational content indicators. A single match keeps the
	// image no matter what else matched.
	Medical []string

	// Path fragments that mark person-photo directories.
	PortraitPaths []string
	// Filename fragments that suggest a person's photo.
	PortraitFiles []string
	// Honorifics and job titles that mark staff portraits.
	TitleHints []string
	// Educational-context keywords that rescue otherwise unclassified
	// images from the fail-closed default.
	Educational []string

	// Markers that identify a text block as answer options.
	OptionMarkers []string
	// Keywords that identify a text block as medical information.
	MedicalText []string

	// Indicator sets for inline SVG illustrations.
	SVGPortrait []string
	SVGMedical  []string
}

// DefaultKeywords is the table the classifier ships with.
func DefaultKeywords() *KeywordTable {
	return &KeywordTable{
		Version: "v1",
		Portrait: []string{
			"portrait", "headshot", "profile", "photo", "mugshot", "avatar", "face",
			"person", "doctor", "patient_photo", "staff", "physician", "nurse",
			"resident", "attending", "faculty", "bio", "biography", "people",
		},
		UILogo: []string{
			"anon.png", "anonymous", "uc-cumming", "logo.png", "logo.jpg", "logo.svg",
			"badge", "icon", "nav", "navigation", "header", "footer", "sidebar",
			"menu", "button",
		},
		Medical: []string{
			"ecg", "ekg", "electrocardiogram", "monitor", "vital_signs", "vitalsigns",
			"cardiac_monitor", "heart_monitor", "rhythm_strip", "waveform", "mri",
			"ct_scan", "ultrasound", "x-ray", "xray", "scan", "blood_pressure",
			"bp_monitor", "oxygen", "saturation", "pulse_ox", "cardiac", "pulmonary",
			"respiratory", "chest_xray", "diagnostic", "test_result", "lab_result",
			"pathology", "radiology", "equipment", "device", "machine", "display",
			"screen", "readout", "medical_chart", "ecg_trace", "rhythm", "heart_rate",
			"anatomy", "antcirc", "circulation", "structure", "identify", "diagram",
			"uploads/card", "medical", "clinical", "patient", "case", "study",
			"education", "learning",
		},
		PortraitPaths: []string{
			"/images/people/", "/staff/", "/faculty/", "/photos/", "/portraits/", "/bio/",
		},
		PortraitFiles: []string{
			"headshot", "bio", "profile", "_person", "staff_", "faculty_",
			"people", "photos", "portraits", "staff", "faculty", "headshots",
		},
		TitleHints: []string{
			"dr.", "dr ", "md", "phd", "professor", "physician",
		},
		Educational: []string{
			"uploads/card", "question", "case", "study", "patient", "medical",
			"clinical", "anatomy", "identify", "structure", "diagram",
		},
		OptionMarkers: []string{
			"A.", "B.", "C.", "D.", "E.", "F.",
		},
		MedicalText: []string{
			"sensory", "motor", "reflexes", "symptoms", "findings", "patient",
			"medical", "diagnosis", "treatment", "condition", "exam", "language",
			"gait", "cerebellar",
		},
		SVGPortrait: []string{
			"doctor_room", "doctor", "portrait", "physician", "staff", "headshot",
			"face", "person", "human", "head", "hair", "eyes", "nose", "mouth",
			"skin", "body", "arm", "hand", "leg", "shirt", "clothing", "uniform",
		},
		SVGMedical: []string{
			"ecg", "ekg", "electrocardiogram", "waveform", "heartbeat", "chart",
			"graph", "plot", "data", "line", "axis", "grid",
		},
	}
}
