package workflow

import "slices"

// View is what a client needs to render a status stepper: the ordered
// steps, where the entity sits and which transitions it may request.
type View struct {
	Entity string `json:"entity"`
	Position
	Steps    []Status `json:"steps"`
	Eligible []Status `json:"eligible"`
}

func (d *Definition) View(raw string) View {
	return View{
		Entity:   d.Entity,
		Position: d.Locate(raw),
		Steps:    slices.Clone(d.Steps),
		Eligible: d.Eligible(raw),
	}
}
