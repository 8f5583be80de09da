/*
Package markov provides an in-memory toolkit for learning word-level Markov
chain models from short text messages and sampling new, length-constrained
sentences from them.

A Chain is an immutable value. Build creates a chain from one tokenized text
sample, Combine merges any number of chains of the same order by summing
their transition weights, and Generate repeatedly samples a chain until a
sentence fits inside a length window or a bounded retry budget runs out.
Because no operation mutates an existing chain, a chain can be read by any
number of goroutines at once; callers that keep a "current model" reference
are responsible for publishing the result of Combine themselves.

Chains serialize to JSON or YAML (see ExportJSON and ExportYAML), and models
written by the markovify Python library can be read with ImportMarkovify.
*/
package markov
