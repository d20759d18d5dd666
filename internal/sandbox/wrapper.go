package sandbox

import "fmt"

// renderWrapper generates the <job>_wrapper.ts entry point the JS runtime
// executes. It exposes the ctx object described in §4.6 step 2 to the
// user script, routing every external operation through ctx._rpc, which
// writes an "RPC:"-prefixed request line to stdout and awaits the
// matching response line on stdin (§4.6 step 3).
func renderWrapper(job string) string {
	return fmt.Sprintf(`// generated sandbox entry point, job %s
import script from "./%s.ts";

const jobContext = JSON.parse(await Bun.file("./%s_context.json").text());

let rpcID = 0;
const pending = new Map();

function readLine() {
  return new Promise((resolve) => {
    const chunks = [];
    const onData = (chunk) => {
      chunks.push(chunk);
      const text = Buffer.concat(chunks).toString("utf8");
      const nl = text.indexOf("\n");
      if (nl !== -1) {
        process.stdin.off("data", onData);
        resolve(text.slice(0, nl));
      }
    };
    process.stdin.on("data", onData);
  });
}

async function rpc(method, params) {
  const id = ++rpcID;
  const envelope = { id, method, params };
  process.stdout.write("RPC:" + JSON.stringify(envelope) + "\n");
  const line = await Promise.race([
    readLine(),
    new Promise((_, reject) => setTimeout(() => reject(new Error("rpc timeout: " + method)), 30000)),
  ]);
  const decoded = JSON.parse(line);
  if (decoded.error) {
    throw new Error(decoded.error.message || String(decoded.error));
  }
  return decoded.result;
}

const ctx = {
  query: (sql) => rpc("query", { sql }),
  queryDatasource: (name, sql, params, limit) => rpc("datasource_query", { name, sql, params, limit: Math.min(limit ?? 1000, 10000) }),
  loadData: (table, rows) => rpc("load_data", { table, rows }),
  files: {
    list: (params) => rpc("file_list", params),
    read: (params) => rpc("file_read", params),
    search: (params) => rpc("file_search", params),
    metadata: (params) => rpc("file_metadata", params),
    peek: (params) => rpc("file_peek", params),
    range: (params) => rpc("file_range", params),
    searchContent: (params) => rpc("file_search_content", params),
  },
  datasource: {
    list: () => rpc("datasource_list", {}),
    detail: (id) => rpc("datasource_detail", { id }),
    inspect: (id) => rpc("datasource_schema", { id }),
    query: (id, sql, params, limit) => rpc("datasource_query", { id, sql, params, limit: Math.min(limit ?? 1000, 10000) }),
  },
};

const maxResultBytes = 10 * 1024 * 1024;

try {
  const result = await script(ctx, jobContext);
  const encoded = JSON.stringify({ success: true, result });
  if (Buffer.byteLength(encoded, "utf8") > maxResultBytes) {
    throw new Error("result exceeds maximum size of " + maxResultBytes + " bytes");
  }
  process.stdout.write(encoded + "\n");
} catch (err) {
  process.stdout.write(JSON.stringify({ success: false, error: String(err && err.message || err), stack: err && err.stack }) + "\n");
}
`, job, job, job)
}
