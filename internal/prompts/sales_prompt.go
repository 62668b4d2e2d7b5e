package prompts

import (
	"fmt"
	"strings"

	"github.com/paperline/sales-voice-service/internal/domain"
)

// Product is one catalog entry fed into the sales prompt
type Product struct {
	Name        string  `json:"name"`
	Size        string  `json:"size"`
	Price       float64 `json:"price"`
	Description string  `json:"description"`
}

// DefaultProducts is the receipt roll catalog used when no custom
// catalog is configured.
var DefaultProducts = []Product{
	{Name: "Premium Thermal Rolls", Size: "80x80mm", Price: 89.99, Description: "Case of 50, high-density coating"},
	{Name: "Standard Thermal Rolls", Size: "57x40mm", Price: 34.99, Description: "Case of 100, fits most card terminals"},
	{Name: "Eco Thermal Rolls", Size: "80x60mm", Price: 74.99, Description: "Case of 50, BPA-free paper"},
}

// GenerateSalesPrompt builds the system prompt for the AI conversation
// session from the agent persona, the customer context and the catalog.
func GenerateSalesPrompt(agentName string, customer *domain.CustomerProfile, products []Product) string {
	if agentName == "" {
		agentName = "Sarah"
	}
	if len(products) == 0 {
		products = DefaultProducts
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You are %s, an experienced and friendly sales representative for Premium Paper Solutions, a receipt roll supplier. You are on a phone call to sell high-quality thermal receipt rolls.\n", agentName)

	if customer != nil {
		b.WriteString("\nCUSTOMER INFO:\n")
		fmt.Fprintf(&b, "- Name: %s\n", customer.Name)
		if customer.Company != "" {
			fmt.Fprintf(&b, "- Business: %s\n", customer.Company)
		}
		if customer.Notes != "" {
			fmt.Fprintf(&b, "- Notes: %s\n", customer.Notes)
		}
	}

	b.WriteString("\nPRODUCTS TO SELL:\n")
	for _, p := range products {
		fmt.Fprintf(&b, "- %s (%s): $%.2f - %s\n", p.Name, p.Size, p.Price, p.Description)
	}

	b.WriteString(`
PERSONALITY & APPROACH:
- Be warm, professional, and conversational
- Listen actively to their responses
- Ask qualifying questions about their business needs
- Handle objections confidently but respectfully
- Always aim to get them to accept a free sample pack
- Show genuine interest in helping their business

SALES OBJECTIVES:
1. Qualify their current receipt roll usage and pain points
2. Present the value proposition: better quality, cost savings, convenience
3. Handle any objections professionally
4. Close for a free sample pack with no obligation
5. If they accept samples, confirm shipping address and contact info

KEY TALKING POINTS:
- Our rolls last 40% longer than standard ones
- Clients typically save $50-200 per month
- Better print quality means happier customers
- Free sample pack with no obligation

IMPORTANT RULES:
- This is a phone call: keep every response conversational and under 30 seconds
- Ask one question at a time
- Let them talk and respond to their specific concerns
- If they are not interested, politely ask why and try to address the concern
- If they ask to stop receiving calls, confirm you will remove them and say goodbye
- Always end with a soft close or a next step
`)
	return b.String()
}
