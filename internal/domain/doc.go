// Package domain models crop photo diagnosis and agrovet supplier matching
// for a single county service area.
//
// # Classification
//
// Photos are resampled to 224x224 and summarised by the mean of each colour
// channel (Rm, Gm, Bm) and the mean of the three channel standard deviations
// (V). An ordered rule list decides the label; the first match wins:
//
//	Rm > Gm+15 and Rm > Bm   necrosis_blight        min(0.89, 0.6 + (Rm-Gm)/100)
//	V > 60 and Gm < 100      severe_spotting        min(0.92, 0.55 + (V-40)/200)
//	Gm > Rm+15               healthy_or_deficiency  min(0.8, 0.5 + (Gm-Rm)/120)
//	otherwise                unsure_or_pest         0.45 + |Gm-Rm|/400
//
// Confidence is clamped to [0,1] and rounded to two decimals. The heuristic
// is deterministic: the same photo always gets the same result, whatever the
// crop.
//
// # Advisories
//
// The [Catalog] maps (crop, label) to ordered advisory entries and optional
// treatment profiles. Keys are case-sensitive. A missing pair is the normal
// "no tailored advice" state and is rendered with [NoAdvisoryMessage].
//
// # Suppliers
//
// The [Directory] holds verified agrovets under region (constituency) and
// sub-region (ward). A search first passes the location gate ([IsEligible]);
// when the farmer has not confirmed being in the county the search stops
// with [ErrIneligibleLocation] before any distance is computed. Candidates
// come from the exact ward; if it has none and fallback is allowed, the
// search widens to the whole constituency and the result says so through
// [SupplierMatch.Scope]. Candidates are ranked by haversine distance
// (R = 6371 km) with a stable sort, so ties keep registry order.
package domain
