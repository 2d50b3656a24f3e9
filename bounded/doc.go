// Package bounded provides fixed-capacity containers backed by a memory
// provider: Vec, Stack and Map. Capacity is fixed at construction and
// never grows; exhaustion is a reported error.
//
// Each container carries a verification policy chosen at construction.
// The policy decides, per operation, which of bounds checking, checksum
// maintenance and structural validation run:
//
//   - VerifyNone trusts every index. Reserved for call sites proven
//     correct by other means; each use must be justified.
//   - VerifySampling checks a bounded fraction of operations. A counter
//     modulo the sampling window selects operations; the per-container
//     importance (0-255) sets the checked fraction, so importance 255
//     forces every operation to be checked.
//   - VerifyStandard bounds-checks every access and maintains an element
//     checksum verified by Validate.
//   - VerifyFull additionally re-validates structure after every mutation.
//
// All violations are returned as errors; containers never panic at any
// level above VerifyNone.
package bounded
