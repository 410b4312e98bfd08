// Package agent contains the swap quoter. For a single host event it checks
// the envelope and sender, reads the pool reserves through a view call,
// prices the swap with the constant-product formula and writes the result
// back to the pool contract in a signed transaction.
package agent
