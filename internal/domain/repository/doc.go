// Package repository define los contratos de persistencia del control plane:
// el Repository de objetos de modelo, el registro de transacciones (Tx) y la
// taxonomía de errores compartida por los drivers.
//
// Los métodos FindX que retornan un objeto devuelven ErrNotFound si no
// existe. FindXs(offset, limit) acepta limit negativo para traer todo.
// Create/Update retornan el objeto tal como quedó almacenado (versión ya
// incrementada); el objeto de entrada no se muta.
package repository
