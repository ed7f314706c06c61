package middleware

import "github.com/gin-gonic/gin"

// noStoreHeaders keep attempt state out of browser and proxy caches. Pragma
// and Expires cover HTTP/1.0 proxies still found on school networks.
var noStoreHeaders = map[string]string{
	"Cache-Control": "no-store, private",
	"Pragma":        "no-cache",
	"Expires":       "0",
}

// NoStore marks every response as uncacheable.
func NoStore() gin.HandlerFunc {
	return func(c *gin.Context) {
		for k, v := range noStoreHeaders {
			c.Header(k, v)
		}
		c.Next()
	}
}
