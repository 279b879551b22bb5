package scorer

// Grade is the coarse outreach classification of a score.
type Grade string

const (
	GradeS Grade = "S"
	GradeA Grade = "A"
	GradeB Grade = "B"
	GradeC Grade = "C"
	GradeD Grade = "D"
)

// Tier carries the display tuple for a grade.
type Tier struct {
	Grade    Grade  `json:"grade"`
	Label    string `json:"label"`
	Color    string `json:"color"`
	Action   string `json:"action"`
	Urgency  string `json:"urgency"`
	MinScore int    `json:"min_score"`
}

// tiers is ordered by descending MinScore; lower bounds are inclusive.
var tiers = []Tier{
	{Grade: GradeS, Label: "Hot", Color: "red", Action: "Contact immediately", Urgency: "Within hours", MinScore: 80},
	{Grade: GradeA, Label: "Warm", Color: "orange", Action: "Reach out soon", Urgency: "24-48 hours", MinScore: 60},
	{Grade: GradeB, Label: "Qualified", Color: "yellow", Action: "Schedule outreach", Urgency: "3-5 days", MinScore: 40},
	{Grade: GradeC, Label: "Low priority", Color: "blue", Action: "Nurture only", Urgency: "No rush", MinScore: 20},
	{Grade: GradeD, Label: "Disqualified", Color: "gray", Action: "Do not contact", Urgency: "None", MinScore: 0},
}

// TierFor classifies a score. Scores outside [0,100] are clamped first.
func TierFor(score int) Tier {
	score = clamp(score, 0, 100)
	for _, t := range tiers {
		if score >= t.MinScore {
			return t
		}
	}
	return tiers[len(tiers)-1]
}

// Tiers returns every tier, highest first.
func Tiers() []Tier {
	return append([]Tier(nil), tiers...)
}
