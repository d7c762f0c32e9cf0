// Package advisor produces suppression and rebalancing proposals for a
// maintenance run.
//
// The primary advisor asks an AWS Bedrock model to analyze the run's bounce
// evidence and list state; its reply is untrusted input and is checked
// against a strict JSON schema before anything downstream sees it. A timeout
// or a schema violation does not fail the run: the coordinator falls back to
// the rule-based planner, which suppresses on hard-bounce evidence only and
// never proposes rebalancing.
package advisor
