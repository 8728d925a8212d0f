/*
Package script evaluates function source text against live values.

A Runtime owns one goja VM. Function source arrives as text and is parsed
either as an expression or, failing that, as a method body with "function"
prepended (so "name(a) { ... }" and "async name() { ... }" work). Any other
text is rejected with ErrNotSerializableFunction.

Values cross between Go and the VM in two ways:

  - codec values (maps, slices, sets, typed buffers, dates, errors) are
    rebuilt as native script objects, keeping shared structure;
  - anything else (driver objects, host structs) is wrapped so the script
    can call its methods, which are exposed with lower-camel names.

Results are converted back into codec values. Wrapped host values come back
as the original Go value. Promises returned by async functions are settled
before the result is read; a promise still pending once the job queue drains
is an error, since nothing else can settle it.
*/
package script
