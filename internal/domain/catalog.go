package domain

import "fmt"

// Plan is a purchasable data bundle.
type Plan struct {
	ID            string `json:"id"`
	Name          string `json:"name"`
	Data          string `json:"data"`
	Price         int64  `json:"price"`
	Validity      string `json:"validity"`
	Badge         string `json:"badge,omitempty"`
	BonusEligible bool   `json:"bonus_eligible"`
}

// Label is the human readable description stored on purchase transactions.
func (p Plan) Label() string {
	return fmt.Sprintf("%s (%s) - %s", p.Name, p.Data, p.Validity)
}

var catalog = []Plan{
	{ID: "sme-starter", Name: "SME Starter", Data: "50GB", Price: 7500, Validity: "30 Days", Badge: "Try Me", BonusEligible: true},
	{ID: "streamer", Name: "Streamer", Data: "100GB", Price: 14900, Validity: "30 Days", BonusEligible: true},
	{ID: "professional", Name: "Professional", Data: "200GB", Price: 24900, Validity: "6 Months", BonusEligible: true},
	{ID: "office-hub", Name: "Office Hub", Data: "400GB", Price: 34500, Validity: "6 Months", Badge: "🔥 Most Popular"},
	{ID: "mega-tera", Name: "Mega Tera", Data: "1TB", Price: 64500, Validity: "6 Months", Badge: "Best Value"},
}

// Plans returns a copy of the static plan catalog.
func Plans() []Plan {
	out := make([]Plan, len(catalog))
	copy(out, catalog)
	return out
}

// FindPlan looks a plan up by id.
func FindPlan(id string) (Plan, error) {
	for _, p := range catalog {
		if p.ID == id {
			return p, nil
		}
	}
	return Plan{}, ErrPlanNotFound
}
