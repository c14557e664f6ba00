/*

Package base provides base functions shared by recbench packages.

The base functions include:

* Random Generator

* Seed Derivation

* Delimited Line Reader

*/
package base
