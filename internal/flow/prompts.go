package flow

import (
	"fmt"
	"strings"

	"github.com/ChairsideAI/Chairside/internal/models"
)

// Weekday labels in WeekHours order.
var weekdayNames = [7]string{"Monday", "Tuesday", "Wednesday", "Thursday", "Friday", "Saturday", "Sunday"}

const promptTonePolicy = `You are a friendly, professional front-desk assistant for a dental practice.
Keep answers short and warm. Never give medical diagnoses or treatment advice;
for clinical questions, recommend speaking with the dentist. If a patient
describes a dental emergency, share the practice's emergency guidance and urge
them to call right away. If you do not know something, say so and suggest
calling the practice. Always remind patients that appointment details should be
confirmed by phone.`

const genericPracticePrompt = `You are a friendly, professional front-desk assistant for a dental practice.
You do not have this practice's specific details, so answer general dental
questions helpfully and direct anything practice-specific (hours, insurance,
booking) to a phone call with the front desk. Never give medical diagnoses or
treatment advice.`

// BuildSystemPrompt renders the completion system instruction for a practice.
// When the practice lookup failed, the prompt degrades to generic copy rather
// than inventing details.
func BuildSystemPrompt(p models.PracticeProfile, found bool) string {
	if !found {
		return genericPracticePrompt
	}

	var b strings.Builder
	b.WriteString(promptTonePolicy)
	b.WriteString("\n\nPractice details:\n")
	fmt.Fprintf(&b, "Name: %s\n", p.Name)
	if p.Phone != "" {
		fmt.Fprintf(&b, "Phone: %s\n", p.Phone)
	}
	if p.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", p.Address)
	}

	if p.Hours.OpenDays() > 0 {
		b.WriteString("Office hours:\n")
		for i, d := range p.Hours {
			if d.Open {
				fmt.Fprintf(&b, "  %s: %s to %s\n", weekdayNames[i], d.Start, d.End)
			} else {
				fmt.Fprintf(&b, "  %s: closed\n", weekdayNames[i])
			}
		}
	}
	if len(p.Services) > 0 {
		fmt.Fprintf(&b, "Services offered: %s\n", strings.Join(p.Services, ", "))
	}
	if len(p.Insurances) > 0 {
		fmt.Fprintf(&b, "Insurance accepted: %s\n", strings.Join(p.Insurances, ", "))
	}
	if p.EmergencyPolicy != "" {
		fmt.Fprintf(&b, "Emergency guidance: %s\n", p.EmergencyPolicy)
	}
	return b.String()
}
