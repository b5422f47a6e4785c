/*

Process of optimization

IR Unit (ir) ->
	verify ->
	borrow.InferUnit (parameter ownership of the unit) ->
per function, in parallel:
	borrow.Derive (tags) ->
	borrow.Captures ->
	rcinsert (liveness) ->
	reuse.Detect (dominators, refined liveness) -> fbip report ->
	reuse.Expand ->
	rcelim ->
	drop.Annotate ->
	verify ->
Optimized IR (ir) + FBIP reports + drop table

*/
package compiler
