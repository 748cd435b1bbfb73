package domain

// AdvisoryEntry is one piece of guidance tied to a (crop, label) pair.
type AdvisoryEntry struct {
	Topic   string `json:"topic" yaml:"topic"`
	Message string `json:"message" yaml:"message"`
}

// Treatment describes a chemical control programme for a named disease.
type Treatment struct {
	Disease      string `json:"disease" yaml:"disease"`
	Crop         Crop   `json:"crop" yaml:"crop"`
	Symptoms     string `json:"symptoms" yaml:"symptoms"`
	Chemical     string `json:"chemical" yaml:"chemical"`
	TradeNames   string `json:"trade_names" yaml:"trade_names"`
	Dosage       string `json:"dosage" yaml:"dosage"`
	Alternatives string `json:"alternatives" yaml:"alternatives"`
	// Labels are the classifier outcomes this treatment applies to.
	Labels []Label `json:"labels,omitempty" yaml:"labels"`
}

type catalogKey struct {
	crop  Crop
	label Label
}

// Catalog holds the advisory and treatment reference data. It is built once
// and only read afterwards, so it is safe to share between goroutines.
type Catalog struct {
	advisories map[catalogKey][]AdvisoryEntry
	treatments map[catalogKey][]Treatment
	crops      []Crop
}

// CatalogBuilder accumulates entries before freezing them into a Catalog.
type CatalogBuilder struct {
	c    *Catalog
	seen map[Crop]bool
}

// NewCatalogBuilder returns an empty builder.
func NewCatalogBuilder() *CatalogBuilder {
	return &CatalogBuilder{
		c: &Catalog{
			advisories: make(map[catalogKey][]AdvisoryEntry),
			treatments: make(map[catalogKey][]Treatment),
		},
		seen: make(map[Crop]bool),
	}
}

// Advise appends entries for (crop, label), preserving order.
func (b *CatalogBuilder) Advise(crop Crop, label Label, entries ...AdvisoryEntry) *CatalogBuilder {
	k := catalogKey{crop, label}
	b.c.advisories[k] = append(b.c.advisories[k], entries...)
	b.addCrop(crop)
	return b
}

// Treat registers t under its crop for each of its labels.
func (b *CatalogBuilder) Treat(t Treatment) *CatalogBuilder {
	for _, l := range t.Labels {
		k := catalogKey{t.Crop, l}
		b.c.treatments[k] = append(b.c.treatments[k], t)
	}
	b.addCrop(t.Crop)
	return b
}

func (b *CatalogBuilder) addCrop(crop Crop) {
	if !b.seen[crop] {
		b.seen[crop] = true
		b.c.crops = append(b.c.crops, crop)
	}
}

// Build returns the finished catalog. The builder must not be used afterwards.
func (b *CatalogBuilder) Build() *Catalog {
	c := b.c
	b.c = nil
	return c
}

// Lookup returns the advisories for (crop, label) in registration order.
// Keys are case-sensitive. A missing pair yields an empty result, which is
// the normal "no tailored advice" state rather than an error.
func (c *Catalog) Lookup(crop Crop, label Label) []AdvisoryEntry {
	entries := c.advisories[catalogKey{crop, label}]
	if len(entries) == 0 {
		return nil
	}
	out := make([]AdvisoryEntry, len(entries))
	copy(out, entries)
	return out
}

// Treatments returns the treatment profiles registered for (crop, label).
func (c *Catalog) Treatments(crop Crop, label Label) []Treatment {
	ts := c.treatments[catalogKey{crop, label}]
	if len(ts) == 0 {
		return nil
	}
	out := make([]Treatment, len(ts))
	for i, t := range ts {
		t.Labels = append([]Label(nil), t.Labels...)
		out[i] = t
	}
	return out
}

// Crops lists the crops that have any catalog data, in registration order.
func (c *Catalog) Crops() []Crop {
	return append([]Crop(nil), c.crops...)
}

// Len returns the number of (crop, label) pairs with advisories.
func (c *Catalog) Len() int {
	return len(c.advisories)
}
