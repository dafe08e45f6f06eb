// Content quality scoring for skill submissions.
//
// ComputeSignals turns a skill's readme (SKILL.md) and summary in to a fixed set of measurable signals, including a structural fingerprint of the document outline. Evaluate is a pure function which turns those signals, the submitter's trust tier, and a count of recent same-fingerprint submissions in to a pass, quarantine, or reject decision.
//
// The recent-similarity count is supplied by the caller, typically from a SimilarityIndex, so that evaluation itself holds no state.
package quality
