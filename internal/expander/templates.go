package expander

import "github.com/ibeckermayer/dripfeed/internal/catalog"

// templateSet holds the seed sentences for one topic. Seeds are written to
// contain at least one follow-up keyword so the variation rotation has
// material to work with.
type templateSet struct {
	seeds []string
}

// templates maps every catalog topic to its seed set. A test walks
// catalog.Topics() to guarantee no topic is missing an entry.
var templates = map[catalog.Topic]templateSet{
	catalog.TopicCoding: {seeds: []string{
		"Ship small, ship often. The best codebase is the one that keeps moving.",
		"Every bug you fix teaches you something about the system you thought you knew.",
		"Readable code is a gift to the person you will be in six months.",
		"Delete more code than you write this week. Your future self will thank you.",
		"The fastest way to learn a codebase is to fix a bug in it.",
	}},
	catalog.TopicAI: {seeds: []string{
		"AI tools are amplifiers. They make good engineering habits more valuable, not less.",
		"The model writes the code, but you still own the bug.",
		"Prompting well is mostly just writing a clear spec. That skill was always rare.",
		"Automate the boring parts so you can focus on the parts that need judgment.",
	}},
	catalog.TopicProductivity: {seeds: []string{
		"Deep focus for one hour beats shallow busyness for eight.",
		"Your calendar is a budget. Spend your focus like it's money.",
		"The most productive thing you can do today might be saying no.",
		"Small daily progress compounds faster than heroic weekend sprints.",
		"Protect your mornings. That's when the hard thinking happens.",
	}},
	catalog.TopicCareer: {seeds: []string{
		"Your career grows in the direction of the problems you volunteer for.",
		"Write down what you shipped this quarter. Your promotion case writes itself.",
		"Mentorship is a two-way trade: questions for context, context for questions.",
		"The skill that got you here is rarely the skill that gets you there.",
	}},
	catalog.TopicOpenSource: {seeds: []string{
		"Your first open source contribution can be a typo fix. Every maintainer started somewhere.",
		"Good issues are a gift. Reproduce, describe, suggest. Maintainers notice.",
		"Open source is a long game: small consistent contributions beat one grand PR.",
		"Reading other people's code in public repos is free mentorship.",
	}},
	catalog.TopicWellness: {seeds: []string{
		"Step away from the screen. The bug will still be there, but so will the solution.",
		"Sleep is a performance tool. Debugging tired is debugging twice.",
		"A short walk resets your focus better than a fourth coffee.",
		"Burnout is a system failure, not a personal one. Fix the system.",
	}},
}

// followupKeywords fixes the scan order for keyword-triggered follow-ups so
// expansion is deterministic.
var followupKeywords = []string{
	"bug", "code", "focus", "ship", "open source", "career", "sleep", "walk",
}

// followups maps a marker keyword to the follow-up sentences a variation can
// append when a seed contains that keyword.
var followups = map[string][]string{
	"bug": {
		"Write the regression test first.",
		"The second-best time to add logging was before the bug.",
		"Every flaky test is a bug report about your assumptions.",
	},
	"code": {
		"Code review is where the real learning happens.",
		"Name things for the reader, not the writer.",
		"Comments explain why. The code already says what.",
	},
	"focus": {
		"Close the other tabs. All of them.",
		"One task at a time is a superpower in disguise.",
		"Notifications off, timer on.",
	},
	"ship": {
		"Done and shipped beats perfect and pending.",
		"Feedback from production is worth ten design meetings.",
	},
	"open source": {
		"Stars are nice. Users are better.",
		"Documentation PRs are always welcome somewhere.",
	},
	"career": {
		"Keep a brag document. Memory fades, impact shouldn't.",
		"Feedback is a gift, even when it's wrapped badly.",
	},
	"sleep": {
		"Your best refactoring ideas arrive after eight hours.",
	},
	"walk": {
		"Rubber duck debugging works even better outdoors.",
	},
}
