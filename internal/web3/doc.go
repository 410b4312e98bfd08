// Package web3 houses blockchain connectivity for the agent: the contract
// client abstraction used to read pool reserves and report swap results,
// chain definitions loaded from YAML, and helpers that turn loosely typed
// JSON values into contract integers.
package web3
