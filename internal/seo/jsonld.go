package seo

// LocalBusiness is the schema.org payload for the advertising business.
type LocalBusiness struct {
	Name        string
	Description string
	Telephone   string
	Email       string
	Language    string
	AreaServed  []string
}

// Schema returns the schema.org LocalBusiness map. Empty fields are omitted.
func (b LocalBusiness) Schema() map[string]any {
	m := map[string]any{
		"@context": "https://schema.org",
		"@type":    "LocalBusiness",
		"name":     b.Name,
	}
	if b.Description != "" {
		m["description"] = b.Description
	}
	if b.Telephone != "" {
		m["telephone"] = b.Telephone
	}
	if b.Email != "" {
		m["email"] = b.Email
	}
	if b.Language != "" {
		m["inLanguage"] = b.Language
	}
	if len(b.AreaServed) > 0 {
		areas := make([]map[string]any, 0, len(b.AreaServed))
		for _, a := range b.AreaServed {
			areas = append(areas, map[string]any{"@type": "Place", "name": a})
		}
		m["areaServed"] = areas
	}
	return m
}
