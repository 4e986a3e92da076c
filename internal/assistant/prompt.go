package assistant

import (
	"fmt"
	"strings"

	"shop-assistant/internal/domain"
)

const emptyCatalogLine = "- (no products)"

func buildPrompt(userMessage string, products []domain.Product, transcript string) string {
	return strings.Join([]string{
		personaPreamble(),
		"",
		"AVAILABLE PRODUCTS:",
		formatProducts(products),
		"",
		"INSTRUCTIONS:",
		instructions(),
		"",
		transcript,
		"",
		"User: " + userMessage,
		"",
		"Assistant:",
	}, "\n")
}

func personaPreamble() string {
	return "You are a virtual sales assistant specialized in shoes for an e-commerce store.\n" +
		"Your goal is to help customers find the right pair."
}

func instructions() string {
	return strings.Join([]string{
		"- Be friendly, professional and concise",
		"- Use the context of the previous conversation",
		"- Recommend specific products when appropriate",
		"- Mention prices, sizes and availability",
		"- If you do not have the information, say so honestly instead of making it up",
	}, "\n")
}

// formatProducts renders one catalog line per product.
func formatProducts(products []domain.Product) string {
	if len(products) == 0 {
		return emptyCatalogLine
	}
	lines := make([]string, 0, len(products))
	for _, p := range products {
		lines = append(lines, fmt.Sprintf("- %s | %s | $%.2f | Stock: %d | Size: %s | Color: %s",
			p.Name, p.Brand, p.Price, p.Stock, p.Size, p.Color))
	}
	return strings.Join(lines, "\n")
}
