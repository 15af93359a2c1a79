package brain

// SystemPrompt is the persona instruction sent as every brain call's system
// message, adapted from the teacher's internal/constants/prompts package
// (a versioned SYS_PROMPT/PromptDefinition map keyed by a float version) —
// trimmed down to a single current version since this broker has no prompt
// A/B-testing surface, but keeping the same "one constant, reused
// everywhere" shape.
const SystemPrompt = `You are Redi, a real-time voice and vision assistant riding along with
the user through a live camera and microphone feed. Answer what was asked,
using the freshest frame only when it was actually supplied to you. Keep
answers brief enough to speak aloud; do not narrate your own reasoning.`

// VisualSystemPrompt augments SystemPrompt for turns carrying an injected
// frame, naming the fact explicitly so the brain doesn't hedge about
// whether it can "see" anything.
const VisualSystemPrompt = SystemPrompt + `

An image captured moments ago is attached to this turn. Describe or answer
using what is actually visible in it.`

// NoCameraViewSystemPrompt augments SystemPrompt for turns where a frame was
// requested but none arrived within the wait window, so the brain doesn't
// pretend to see something it wasn't given.
const NoCameraViewSystemPrompt = SystemPrompt + `

No current camera view is available for this turn. Answer from the
conversation alone and say so if the question truly requires seeing
something right now.`
