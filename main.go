// The main package for the siteaudit executable.
package main

import (
	"github.com/JakeFAU/site-audit/cmd"
)

func main() {
	cmd.Execute()
}
