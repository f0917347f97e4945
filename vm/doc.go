// Package vm implements the cheney register machine.
//
// This package contains:
//   - 32-bit register instructions and their metadata
//   - Methods loaded from program images, with verified operands
//   - Fibers: register-window stacks interpreted one step at a time
//   - The runtime, which owns the heap and reports every fiber's registers
//     to the collector as roots
//   - A cooperative FIFO scheduler
package vm
