// Package scoring computes the four category health scores (electrical,
// thermal, mechanical, predictive) and the weighted overall score for each
// canonical reading. All scoring functions are pure given the reading, the
// rolling history and the threshold configuration.
package scoring
