package domain

// Crop names a supported crop. Values are lower-case and compared exactly.
type Crop string

const (
	CropPotato  Crop = "potato"
	CropTomato  Crop = "tomato"
	CropCabbage Crop = "cabbage"
	CropMaize   Crop = "maize"
)

// Crops lists the supported crops in display order.
func Crops() []Crop {
	return []Crop{CropPotato, CropTomato, CropCabbage, CropMaize}
}

// KnownCrop reports whether s is one of the supported crop names.
func KnownCrop(s string) bool {
	switch Crop(s) {
	case CropPotato, CropTomato, CropCabbage, CropMaize:
		return true
	default:
		return false
	}
}

// Label is the condition a photo is classified into.
type Label string

const (
	LabelNecrosisBlight      Label = "necrosis_blight"
	LabelSevereSpotting      Label = "severe_spotting"
	LabelHealthyOrDeficiency Label = "healthy_or_deficiency"
	LabelUnsureOrPest        Label = "unsure_or_pest"
)

var labelTitles = map[Label]string{
	LabelNecrosisBlight:      "Likely: Leaf Blight / Necrosis",
	LabelSevereSpotting:      "Likely: Severe Spotting / Early Blight",
	LabelHealthyOrDeficiency: "Likely: Healthy or Nutrient Deficiency",
	LabelUnsureOrPest:        "Likely: General Pest Damage / Unsure",
}

// Labels lists every label in rule order.
func Labels() []Label {
	return []Label{LabelNecrosisBlight, LabelSevereSpotting, LabelHealthyOrDeficiency, LabelUnsureOrPest}
}

// Valid reports whether l is a known label.
func (l Label) Valid() bool {
	_, ok := labelTitles[l]
	return ok
}

// Title is the farmer-facing wording of the label.
func (l Label) Title() string {
	if t, ok := labelTitles[l]; ok {
		return t
	}
	return string(l)
}
