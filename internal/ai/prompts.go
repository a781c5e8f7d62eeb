package ai

// Duplicate detection prompts
const (
	SimilaritySystemPrompt = `You compare funding opportunity listings collected from different publishers.

Decide how likely two listings describe the same underlying opportunity, even when titles,
wording or formatting differ. Two rounds of the same program in different years are different
opportunities. A general program page and one specific call under it are related but not the same.

Score from 0.0 (unrelated) to 1.0 (certainly the same opportunity).`

	SimilarityUserPrompt = `Listing A:
%s

Listing B:
%s

Respond in JSON format:
{
  "similarity": <0.0-1.0>,
  "reason": "<one sentence>"
}`
)
