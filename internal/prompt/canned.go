package prompt

import "github.com/parlano/parlano/internal/difficulty"

// cannedPrompts is the deterministic last-resort tier of the fallback chain.
// Indexed by round number (cycling), so repeated fallbacks inside one session
// still vary.
var cannedPrompts = map[difficulty.Tier][]Prompt{
	difficulty.TierEasy: {
		{Text: "I like to drink coffee in the morning.", Topic: "daily routine"},
		{Text: "The weather is very nice today.", Topic: "weather"},
		{Text: "My favorite food is rice with chicken.", Topic: "food"},
		{Text: "I go to work by bus every day.", Topic: "transport"},
		{Text: "She reads a book before going to bed.", Topic: "daily routine"},
	},
	difficulty.TierMedium: {
		{Text: "Last weekend I visited my grandmother and we cooked dinner together.", Topic: "family"},
		{Text: "I am planning to travel to another country during my next vacation.", Topic: "travel"},
		{Text: "Learning a new language takes patience, but it opens many doors.", Topic: "learning"},
		{Text: "The new restaurant near my office serves the best noodles in town.", Topic: "food"},
		{Text: "When it rains heavily, the traffic in my city becomes really slow.", Topic: "city life"},
	},
	difficulty.TierHard: {
		{Text: "Although technology makes communication easier, many people say they feel lonelier than before.", Topic: "technology"},
		{Text: "If I could change one thing about my city, I would build more parks where families can spend time together.", Topic: "city life"},
		{Text: "Working from home has advantages and disadvantages, and everyone has to find the balance that suits them.", Topic: "work"},
		{Text: "The documentary we watched last night explained how climate change affects farmers around the world.", Topic: "environment"},
		{Text: "Before making an important decision, I usually write down the benefits and risks so I can compare them calmly.", Topic: "decision making"},
	},
}

// cannedPrompt returns the deterministic prompt for a tier and round number.
func cannedPrompt(tier difficulty.Tier, roundNumber int) Prompt {
	list, ok := cannedPrompts[tier]
	if !ok {
		list = cannedPrompts[difficulty.TierMedium]
	}
	idx := roundNumber - 1
	if idx < 0 {
		idx = 0
	}
	p := list[idx%len(list)]
	p.Tier = tier
	return p
}
