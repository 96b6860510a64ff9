package prompt

import "fmt"

// DefaultOrganization is used when no organization name is configured
const DefaultOrganization = "Zibtek"

// Responses holds the fixed replies returned without calling the model
type Responses struct {
	InjectionRefusal  string
	GreetingReply     string
	OutOfScopeRefusal string
}

// NewResponses renders the fixed replies for an organization
func NewResponses(organization string) Responses {
	if organization == "" {
		organization = DefaultOrganization
	}
	return Responses{
		InjectionRefusal: fmt.Sprintf(
			"I apologize, but I can only answer questions related to %s. Please rephrase your question.",
			organization),
		GreetingReply: fmt.Sprintf(
			"Hello! I'm the %s AI assistant. I can help you learn about %s's services, team, expertise, and how we can help with your software development needs. What would you like to know?",
			organization, organization),
		OutOfScopeRefusal: fmt.Sprintf(
			"I apologize, but I can only answer questions related to %s. Please ask me about our services, team, or offerings.",
			organization),
	}
}
