// Package fixer implements the fix adapter: given one structured test
// failure, it prompts an OpenAI-compatible model (via langchaingo) for a
// corrected version of the offending file and applies the patch to the
// working copy.
package fixer
