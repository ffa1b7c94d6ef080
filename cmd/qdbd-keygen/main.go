// qdbd-keygen genera los secretos que qdbd necesita en deploy:
//
//	qdbd-keygen                    imprime un cluster secret nuevo
//	qdbd-keygen -hash <password>   imprime el PHC argon2id de un password
//
// El hash sirve para inspeccionar o reparar usuarios a mano; el secret va
// en QDB_CLUSTER_SECRET de todos los nodos del cluster.
package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"log"

	"github.com/qdb-io/qdbd/internal/security/password"
)

func main() {
	flagHash := flag.String("hash", "", "password a hashear con argon2id")
	flagBytes := flag.Int("bytes", 32, "largo del secret en bytes")
	flag.Parse()

	if *flagHash != "" {
		phc, err := password.Hash(password.Default, *flagHash)
		if err != nil {
			log.Fatalf("hash: %v", err)
		}
		fmt.Println(phc)
		return
	}

	buf := make([]byte, *flagBytes)
	if _, err := rand.Read(buf); err != nil {
		log.Fatalf("rand: %v", err)
	}
	fmt.Println(base64.RawURLEncoding.EncodeToString(buf))
}
