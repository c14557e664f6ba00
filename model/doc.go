/*

Package model defines the contract between recommendation models and the evaluator.

A model is fitted on an interaction log with a set of hyper-parameters, then asked for
top-n recommendations of a batch of users:

	* Params holds hyper-parameters by name, ParamsGrid is an ordered search space.
	* Model is implemented by every algorithm, BaseModel carries parameters and a seeded generator.
	* ErrFit and ErrUnknownUser classify failures the evaluator knows how to handle.

Implementations live in model/cf: BPR, ALS, ItemKNN and ItemPop.

*/
package model
